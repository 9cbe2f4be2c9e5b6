package executor

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/italolelis/syncbox/internal/transfer"
)

// maxRenameAttempts bounds the search for a free name under the rename policy.
const maxRenameAttempts = 1000

// ExistsFunc reports whether remotePath is already taken on the remote.
type ExistsFunc func(ctx context.Context, remotePath string) (bool, error)

// Resolution is the outcome of applying a collision policy.
type Resolution struct {
	RemotePath string
	// Replace is set when an existing remote file must be overwritten.
	Replace bool
}

// ResolveCollision applies policy to remotePath. Without a collision the path is
// used as is. cancel fails, overwrite replaces, rename picks "name (n).ext" for
// the first free n starting at 2. ask_user cannot prompt from a background
// transfer and fails like cancel.
func ResolveCollision(ctx context.Context, policy transfer.CollisionPolicy, remotePath string, exists ExistsFunc) (Resolution, error) {
	taken, err := exists(ctx, remotePath)
	if err != nil {
		return Resolution{}, fmt.Errorf("failed to check remote path: %w", err)
	}

	if !taken {
		return Resolution{RemotePath: remotePath}, nil
	}

	switch policy {
	case transfer.CollisionOverwrite:
		return Resolution{RemotePath: remotePath, Replace: true}, nil
	case transfer.CollisionRename:
		for n := 2; n < maxRenameAttempts; n++ {
			candidate := RenamedPath(remotePath, n)

			taken, err := exists(ctx, candidate)
			if err != nil {
				return Resolution{}, fmt.Errorf("failed to check remote path: %w", err)
			}

			if !taken {
				return Resolution{RemotePath: candidate}, nil
			}
		}

		return Resolution{}, &transfer.CollisionError{RemotePath: remotePath, Policy: policy}
	default:
		return Resolution{}, &transfer.CollisionError{RemotePath: remotePath, Policy: policy}
	}
}

// RenamedPath inserts " (n)" before the extension of the last path element.
func RenamedPath(remotePath string, n int) string {
	dir, name := path.Split(remotePath)

	ext := path.Ext(name)
	// dotfiles keep their whole name as the stem
	if ext == name {
		ext = ""
	}

	stem := strings.TrimSuffix(name, ext)

	return fmt.Sprintf("%s%s (%d)%s", dir, stem, n, ext)
}
