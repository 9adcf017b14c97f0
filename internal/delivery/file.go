package delivery

import (
	"context"
	"os"
	"path/filepath"

	"github.com/rezonia/erechnung/internal/model"
)

// FileAdapter writes the artifact into config.directory.
// Channel config keys: directory.
type FileAdapter struct{}

// NewFileAdapter creates the file_transfer adapter
func NewFileAdapter() *FileAdapter { return &FileAdapter{} }

func (a *FileAdapter) Type() ChannelType { return ChannelFileTransfer }

func (a *FileAdapter) Send(ctx context.Context, ch *Channel, env Envelope) Result {
	if err := ctx.Err(); err != nil {
		return Failed(Transient(CodeTimeout, "send aborted: %v", err))
	}
	dir := ch.Config["directory"]
	if dir == "" {
		return Failed(Permanent(CodeInvalidConfig, "channel %s has no directory", ch.ID))
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Failed(Transient(CodeFilesystem, "create directory: %v", err))
	}

	name := model.SafeFileName(env.Filename)
	tmp, err := os.CreateTemp(dir, "."+name+".*.tmp")
	if err != nil {
		return Failed(Transient(CodeFilesystem, "create temp file: %v", err))
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(env.Content); err != nil {
		tmp.Close()
		return Failed(Transient(CodeFilesystem, "write file: %v", err))
	}
	if err := tmp.Close(); err != nil {
		return Failed(Transient(CodeFilesystem, "close file: %v", err))
	}

	target := filepath.Join(dir, name)
	if err := os.Rename(tmp.Name(), target); err != nil {
		return Failed(Transient(CodeFilesystem, "rename file: %v", err))
	}
	return Delivered(target)
}
