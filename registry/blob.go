package registry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	digest "github.com/opencontainers/go-digest"
)

// copyBufferSize is the chunk size between cancellation checks.
const copyBufferSize = 1 << 20

// CopyOptions tunes blob copying.
type CopyOptions struct {
	// VerifyContent hashes the copied bytes and compares them to the digest.
	VerifyContent bool
}

// CopyBlob copies the blob named by d from srcDir to dstDir and checks that
// the destination file exists with the source's size afterwards.
// It returns the number of bytes copied.
func CopyBlob(ctx context.Context, d Digest, srcDir, dstDir string, opts CopyOptions) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrCancelled, err)
	}

	name := d.Filename()
	src := filepath.Join(srcDir, name)
	dst := filepath.Join(dstDir, name)

	in, err := os.Open(src)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, fmt.Errorf("%w: %s", ErrSourceBlobMissing, src)
		}
		return 0, fmt.Errorf("%w: open %s: %v", ErrSourceBlobMissing, src, err)
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return 0, fmt.Errorf("%w: stat %s: %v", ErrSourceBlobMissing, src, err)
	}

	if err := os.MkdirAll(dstDir, 0755); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrDestinationWrite, err)
	}

	var r io.Reader = in
	var verifier digest.Verifier
	if opts.VerifyContent {
		v, err := d.verifier()
		if err != nil {
			return 0, fmt.Errorf("%w: %s: %v", ErrVerificationFailed, d, err)
		}
		verifier = v
		r = io.TeeReader(in, v)
	}

	n, err := copyFile(ctx, dst, r, info.Mode().Perm())
	if err != nil {
		return n, err
	}

	if err := verifyCopy(dst, info.Size()); err != nil {
		return n, err
	}
	if verifier != nil && !verifier.Verified() {
		return n, fmt.Errorf("%w: %s content does not match digest", ErrVerificationFailed, dst)
	}
	return n, nil
}

// CopyFile copies a single regular file, creating the destination directory.
// It is used for manifests, which are copied verbatim next to their blobs.
func CopyFile(ctx context.Context, src, dst string) (int64, error) {
	in, err := os.Open(src)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, fmt.Errorf("%w: %s", ErrManifestNotFound, src)
		}
		return 0, fmt.Errorf("%w: open %s: %v", ErrManifestParse, src, err)
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return 0, fmt.Errorf("%w: stat %s: %v", ErrManifestParse, src, err)
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrDestinationWrite, err)
	}
	n, err := copyFile(ctx, dst, in, info.Mode().Perm())
	if err != nil {
		return n, err
	}
	return n, verifyCopy(dst, info.Size())
}

func copyFile(ctx context.Context, dst string, r io.Reader, perm fs.FileMode) (int64, error) {
	if perm == 0 {
		perm = 0644
	}
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return 0, fmt.Errorf("%w: create %s: %v", ErrDestinationWrite, dst, err)
	}

	n, err := io.CopyBuffer(out, &ctxReader{ctx: ctx, r: r}, make([]byte, copyBufferSize))
	if err != nil {
		out.Close()
		if ctxErr := ctx.Err(); ctxErr != nil {
			return n, fmt.Errorf("%w: %v", ErrCancelled, ctxErr)
		}
		return n, fmt.Errorf("%w: copy to %s: %v", ErrDestinationWrite, dst, err)
	}
	if err := out.Sync(); err != nil {
		out.Close()
		return n, fmt.Errorf("%w: sync %s: %v", ErrDestinationWrite, dst, err)
	}
	if err := out.Close(); err != nil {
		return n, fmt.Errorf("%w: close %s: %v", ErrDestinationWrite, dst, err)
	}
	return n, nil
}

// verifyCopy re-checks the destination after the copy returned; a copy can
// report success without the file being there.
func verifyCopy(dst string, wantSize int64) error {
	info, err := os.Stat(dst)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrVerificationFailed, dst, err)
	}
	if info.Size() != wantSize {
		return fmt.Errorf("%w: %s has %d bytes, want %d", ErrVerificationFailed, dst, info.Size(), wantSize)
	}
	return nil
}

// ctxReader stops a copy once ctx is done.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
