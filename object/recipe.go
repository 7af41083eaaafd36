package object

import (
	"encoding/json"

	"github.com/pkg/errors"

	"github.com/convergeio/converge/errdefs"
)

// RecipeVersion is the only recipe schema version the server accepts.
const RecipeVersion = 1

// Recipe reassembles a large file from an ordered list of chunk blobs.
type Recipe struct {
	Version int           `json:"version"`
	Size    uint64        `json:"size"`
	Chunks  []RecipeChunk `json:"chunks"`
}

// RecipeChunk is one contiguous run of file bytes stored as a blob.
type RecipeChunk struct {
	Blob string `json:"blob"`
	Size uint64 `json:"size"`
}

// ParseRecipe decodes and version-checks a serialized recipe.
func ParseRecipe(b []byte) (*Recipe, error) {
	var r Recipe
	if err := json.Unmarshal(b, &r); err != nil {
		return nil, errdefs.InvalidParameter(errors.Wrap(err, "parse recipe"))
	}
	if r.Version != RecipeVersion {
		return nil, errdefs.InvalidParameter(errors.New("unsupported recipe version"))
	}
	return &r, nil
}
