// Package uploader mirrors a local directory tree into a cloud folder. It
// walks the tree top-down, creating each remote folder before uploading the
// files directly inside it, one blocking remote call at a time.
package uploader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
)

// ErrNotDirectory is returned when the local root exists but is not a
// directory.
var ErrNotDirectory = errors.New("uploader: local root is not a directory")

// Remote is the subset of the cloud client the uploader drives. Satisfied by
// *cloudmail.Client.
type Remote interface {
	CreateFolder(ctx context.Context, remotePath string) error
	UploadFile(ctx context.Context, localPath, remotePath string) error
}

// EventKind distinguishes progress events.
type EventKind int

const (
	// EventFolder is reported after a remote folder was created.
	EventFolder EventKind = iota
	// EventFile is reported after a file was uploaded.
	EventFile
)

// Event describes one completed remote operation.
type Event struct {
	Kind       EventKind
	LocalPath  string
	RemotePath string
	Size       int64 // zero for folders
}

// Stats counts the remote operations of a run.
type Stats struct {
	Folders int
	Files   int
	Bytes   int64
}

// Config holds the options for New.
type Config struct {
	Remote       Remote
	Logger       *slog.Logger
	Progress     func(Event) // optional, called after every completed operation
	NormalizeNFC bool        // NFC-normalize remote names (macOS NFD filenames)
}

// Uploader walks a local tree and recreates it remotely.
type Uploader struct {
	remote   Remote
	logger   *slog.Logger
	progress func(Event)
	nfc      bool
}

// New creates an Uploader from cfg. A nil logger discards output.
func New(cfg Config) *Uploader {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &Uploader{
		remote:   cfg.Remote,
		logger:   logger,
		progress: cfg.Progress,
		nfc:      cfg.NormalizeNFC,
	}
}

// Run uploads localRoot into cloudRoot. The first error from the filesystem
// or the remote aborts the run; the returned Stats cover what completed
// before it.
func (u *Uploader) Run(ctx context.Context, localRoot, cloudRoot string) (Stats, error) {
	var stats Stats

	info, err := os.Stat(localRoot)
	if err != nil {
		return stats, fmt.Errorf("uploader: local root: %w", err)
	}

	if !info.IsDir() {
		return stats, fmt.Errorf("%w: %s", ErrNotDirectory, localRoot)
	}

	u.logger.Info("uploader: starting",
		slog.String("local_root", localRoot),
		slog.String("cloud_root", cloudRoot),
	)

	if err := u.walkDir(ctx, localRoot, cloudRoot, ".", &stats); err != nil {
		return stats, err
	}

	u.logger.Info("uploader: finished",
		slog.Int("folders", stats.Folders),
		slog.Int("files", stats.Files),
		slog.Int64("bytes", stats.Bytes),
	)

	return stats, nil
}

// walkDir handles one directory: list it, create its remote folder, upload
// its files, then descend into its subdirectories in name order.
// relPath is the directory's path relative to localRoot, "." for the root.
func (u *Uploader) walkDir(ctx context.Context, localRoot, cloudRoot, relPath string, stats *Stats) error {
	fullPath := filepath.Join(localRoot, relPath)

	entries, err := os.ReadDir(fullPath)
	if err != nil {
		return fmt.Errorf("uploader: reading directory %q: %w", fullPath, err)
	}

	files, dirs, err := u.splitEntries(fullPath, entries)
	if err != nil {
		return err
	}

	remoteDir := RemoteDir(cloudRoot, u.normalize(relPath))

	if err := ctx.Err(); err != nil {
		return err
	}

	if err := u.remote.CreateFolder(ctx, remoteDir); err != nil {
		return fmt.Errorf("uploader: creating folder %q: %w", remoteDir, err)
	}

	stats.Folders++
	u.report(Event{Kind: EventFolder, LocalPath: fullPath, RemotePath: remoteDir})

	for _, f := range files {
		if err := u.uploadFile(ctx, fullPath, remoteDir, f, stats); err != nil {
			return err
		}
	}

	for _, name := range dirs {
		if err := u.walkDir(ctx, localRoot, cloudRoot, filepath.Join(relPath, name), stats); err != nil {
			return err
		}
	}

	return nil
}

// localFile is a non-directory entry scheduled for upload.
type localFile struct {
	name string
	size int64
}

// splitEntries separates entries into files to upload and directories to
// descend into. Symlinks are resolved: a link to a file uploads the target's
// bytes, a link to a directory is neither descended nor created. A broken
// link is kept as a file so that opening it reports the error.
func (u *Uploader) splitEntries(dirPath string, entries []os.DirEntry) ([]localFile, []string, error) {
	var (
		files []localFile
		dirs  []string
	)

	for _, entry := range entries {
		name := entry.Name()

		if entry.Type()&os.ModeSymlink != 0 {
			target, err := os.Stat(filepath.Join(dirPath, name))
			if err != nil {
				u.logger.Warn("uploader: broken symlink",
					slog.String("path", filepath.Join(dirPath, name)),
					slog.String("error", err.Error()),
				)

				files = append(files, localFile{name: name})

				continue
			}

			if target.IsDir() {
				u.logger.Debug("uploader: not following directory symlink",
					slog.String("path", filepath.Join(dirPath, name)),
				)

				continue
			}

			files = append(files, localFile{name: name, size: target.Size()})

			continue
		}

		if entry.IsDir() {
			dirs = append(dirs, name)
			continue
		}

		info, err := entry.Info()
		if err != nil {
			return nil, nil, fmt.Errorf("uploader: stat %q: %w", filepath.Join(dirPath, name), err)
		}

		files = append(files, localFile{name: name, size: info.Size()})
	}

	return files, dirs, nil
}

func (u *Uploader) uploadFile(ctx context.Context, dirPath, remoteDir string, f localFile, stats *Stats) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	localPath := filepath.Join(dirPath, f.name)
	remotePath := RemoteFile(remoteDir, u.normalize(f.name))

	if err := u.remote.UploadFile(ctx, localPath, remotePath); err != nil {
		return fmt.Errorf("uploader: uploading %q: %w", localPath, err)
	}

	stats.Files++
	stats.Bytes += f.size
	u.report(Event{Kind: EventFile, LocalPath: localPath, RemotePath: remotePath, Size: f.size})

	return nil
}

func (u *Uploader) report(ev Event) {
	if u.progress != nil {
		u.progress(ev)
	}
}
