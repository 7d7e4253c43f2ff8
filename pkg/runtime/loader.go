package runtime

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"

	"github.com/cuemby/embassyd/pkg/embassyerr"
)

// DefaultLoaderPath is the external image-loader binary invoked to load
// an s9pk's docker_images section when NewLoader is given an empty
// path: the runtime CLI already on the appliance's PATH. The install
// command's --loader flag passes a different path.
const DefaultLoaderPath = "docker"

// Loader spawns the external image-loader CLI, piping a decompressed
// docker_images section to its stdin. The loader is idempotent per
// image id: loading an already-present image is a no-op on its side.
type Loader struct {
	path string
}

// NewLoader returns a Loader that invokes binary (DefaultLoaderPath if
// empty).
func NewLoader(binary string) *Loader {
	if binary == "" {
		binary = DefaultLoaderPath
	}
	return &Loader{path: binary}
}

// Load runs "<loader> load" with images piped to its stdin. A non-zero
// exit is wrapped as a ContainerRuntime error carrying the process's
// captured stderr.
func (l *Loader) Load(ctx context.Context, images io.Reader) error {
	cmd := exec.CommandContext(ctx, l.path, "load")
	cmd.Stdin = images

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return embassyerr.ContainerRuntime(
			fmt.Sprintf("%s load failed", l.path), stderr.String(), err)
	}
	return nil
}
