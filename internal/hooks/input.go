package hooks

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// HookInput is the JSON the CMS pipes on stdin when no id is given on the
// command line. Plugins name the id differently; the first non-zero wins.
type HookInput struct {
	ItemID int64 `json:"item_id"`
	PostID int64 `json:"post_id"`
	ID     int64 `json:"ID"`
}

// id returns the first id the payload carries.
func (h *HookInput) id() int64 {
	for _, v := range []int64{h.ItemID, h.PostID, h.ID} {
		if v != 0 {
			return v
		}
	}
	return 0
}

// resolveID takes the id from arg when set, otherwise from the JSON on stdin.
func resolveID(arg string, stdin io.Reader) (int64, error) {
	if arg = strings.TrimSpace(arg); arg != "" {
		id, err := strconv.ParseInt(arg, 10, 64)
		if err != nil || id <= 0 {
			return 0, fmt.Errorf("invalid item id %q", arg)
		}
		return id, nil
	}

	var input HookInput
	if err := json.NewDecoder(stdin).Decode(&input); err != nil {
		if errors.Is(err, io.EOF) {
			return 0, errors.New("no item id given and stdin is empty")
		}
		return 0, fmt.Errorf("decode stdin: %w", err)
	}
	id := input.id()
	if id <= 0 {
		return 0, errors.New("stdin carries no item id")
	}
	return id, nil
}
