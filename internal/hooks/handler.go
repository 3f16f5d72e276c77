// Package hooks is the CMS-side notifier: it forwards content mutations to
// a running affinity server.
package hooks

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/lazypower/affinity/internal/engine"
)

// Handle reports one content mutation. The item id comes from idArg, or from
// the JSON on stdin when idArg is empty. Failures are logged to stderr and
// swallowed. Returns whether the server accepted the event.
func Handle(event, idArg string, stdin io.Reader, stdout io.Writer) bool {
	kind := engine.EventKind(event)
	switch kind {
	case engine.EventCreated, engine.EventUpdated, engine.EventDeleted:
	default:
		reportError(fmt.Errorf("unknown hook event: %s", event))
		return false
	}

	id, err := resolveID(idArg, stdin)
	if err != nil {
		reportError(err)
		return false
	}

	client := NewClient()

	// Server down: the next sweep picks the change up.
	if !client.Healthy() {
		reportError(fmt.Errorf("server unreachable, item %d left for the next sweep", id))
		return false
	}

	body, err := json.Marshal(engine.ContentMutationEvent{ItemID: id, Kind: kind})
	if err != nil {
		reportError(err)
		return false
	}
	data, err := client.Post("/api/events", body)
	if err != nil {
		reportError(err)
		return false
	}
	writeResult(stdout, data)
	return true
}
