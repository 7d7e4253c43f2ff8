package installer

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"io"
	"net"
	"path/filepath"
	"testing"

	"github.com/cuemby/embassyd/pkg/archive"
	"github.com/cuemby/embassyd/pkg/cache"
	"github.com/cuemby/embassyd/pkg/store"
	"github.com/cuemby/embassyd/pkg/types"
	"github.com/cuemby/embassyd/pkg/volume"
	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/require"
)

// noopLoader discards whatever is piped to it, standing in for the
// external image-loader CLI in tests.
type noopLoader struct{}

func (noopLoader) Load(ctx context.Context, images io.Reader) error {
	_, err := io.Copy(io.Discard, images)
	return err
}

type recordingBinder struct {
	bound map[types.PackageId]net.IP
}

func (b *recordingBinder) Bind(pkg types.PackageId, ip net.IP, ifaces map[string]types.InterfaceSpec) error {
	if b.bound == nil {
		b.bound = make(map[types.PackageId]net.IP)
	}
	b.bound[pkg] = ip
	return nil
}

func zstdCompress(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	enc, err := zstd.NewWriter(&buf)
	require.NoError(t, err)
	_, err = enc.Write(data)
	require.NoError(t, err)
	require.NoError(t, enc.Close())
	return buf.Bytes()
}

// buildS9pk assembles a full valid s9pk: manifest, license, icon,
// zstd-framed docker_images, and an optional zstd-framed instructions
// section.
func buildS9pk(t *testing.T, manifest []byte, instructions []byte) []byte {
	t.Helper()

	type section struct {
		id      archive.SectionID
		content []byte
	}
	sections := []section{
		{archive.SectionManifest, manifest},
		{archive.SectionLicense, []byte("MIT")},
		{archive.SectionIcon, []byte("\x89PNGfakeicon")},
		{archive.SectionDockerImages, zstdCompress(t, []byte("fake docker image tar"))},
	}
	if instructions != nil {
		sections = append(sections, section{archive.SectionInstructions, zstdCompress(t, instructions)})
	}

	var body bytes.Buffer
	count := make([]byte, 2)
	binary.BigEndian.PutUint16(count, uint16(len(sections)))
	body.Write(count)

	const headerFixedLen = 4 + 32 + 2
	offset := int64(headerFixedLen) + int64(len(sections))*17
	var toc bytes.Buffer
	var bodies bytes.Buffer
	for _, s := range sections {
		b := make([]byte, 17)
		b[0] = byte(s.id)
		binary.BigEndian.PutUint64(b[1:9], uint64(offset))
		binary.BigEndian.PutUint64(b[9:17], uint64(len(s.content)))
		toc.Write(b)
		bodies.Write(s.content)
		offset += int64(len(s.content))
	}
	body.Write(toc.Bytes())
	body.Write(bodies.Bytes())

	h := sha256.Sum256(body.Bytes())

	var out bytes.Buffer
	out.WriteString("s9pk")
	out.Write(h[:])
	out.Write(body.Bytes())
	return out.Bytes()
}

func newTestInstaller(t *testing.T) (*Installer, *store.Store) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "embassyd.db"))
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, st.Close()) })

	c, err := cache.New(t.TempDir())
	require.NoError(t, err)

	vol, err := volume.NewLocalDriver(t.TempDir())
	require.NoError(t, err)

	inst := New(st, c, noopLoader{}, vol, &recordingBinder{}, filepath.Join(t.TempDir(), "public"))
	return inst, st
}

func mustVersion(t *testing.T, s string) types.Version {
	t.Helper()
	v, err := types.ParseVersion(s)
	require.NoError(t, err)
	return v
}

func TestInstallHappyPath(t *testing.T) {
	inst, st := newTestInstaller(t)

	manifest := types.Manifest{
		ID:      "hello-world",
		Version: mustVersion(t, "0.1.0"),
		Title:   "Hello World",
		IconExt: "png",
		Main: types.ServiceSpec{
			Image: "hello-world:0.1.0",
		},
		Interfaces: map[string]types.InterfaceSpec{
			"main": {Name: "main", Port: 8080, Protocol: "tcp"},
		},
		Volumes: map[string]types.VolumeSpec{
			"data": {Name: "data", Path: "/data"},
		},
	}
	manifestJSON, err := json.Marshal(manifest)
	require.NoError(t, err)

	raw := buildS9pk(t, manifestJSON, []byte("read me"))

	require.NoError(t, st.Put("hello-world", types.PackageDataEntry{
		Variant:    types.VariantInstalling,
		Installing: &types.InstallingInfo{},
	}))

	err = inst.Install(context.Background(), "hello-world", manifest.Version, Source{
		Body:          bytes.NewReader(raw),
		ContentLength: int64(len(raw)),
	})
	require.NoError(t, err)

	entry, found, err := st.Peek("hello-world")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, types.VariantInstalled, entry.Variant)
	require.NotNil(t, entry.Installed)
	require.Equal(t, types.MainStatusStopped, entry.Installed.MainStatus)
	require.Equal(t, "10.20.0.2", entry.Installed.IP.String())

	publicDir := filepath.Join(inst.PublicRoot, "hello-world", "0.1.0")
	require.FileExists(t, filepath.Join(publicDir, "LICENSE.md"))
	require.FileExists(t, filepath.Join(publicDir, "icon.png"))
	require.FileExists(t, filepath.Join(publicDir, "INSTRUCTIONS.md"))

	broken, err := st.Broken()
	require.NoError(t, err)
	require.NotContains(t, broken, types.PackageId("hello-world"))
}

func TestInstallCorruptArchiveMarksBroken(t *testing.T) {
	inst, st := newTestInstaller(t)

	manifest := types.Manifest{ID: "broken-pkg", Version: mustVersion(t, "0.1.0")}
	manifestJSON, err := json.Marshal(manifest)
	require.NoError(t, err)

	raw := buildS9pk(t, manifestJSON, nil)
	raw[len(raw)-1] ^= 0xFF // corrupt last byte of the final section body

	require.NoError(t, st.Put("broken-pkg", types.PackageDataEntry{
		Variant:    types.VariantInstalling,
		Installing: &types.InstallingInfo{},
	}))

	err = inst.Install(context.Background(), "broken-pkg", manifest.Version, Source{
		Body:          bytes.NewReader(raw),
		ContentLength: int64(len(raw)),
	})
	require.Error(t, err)

	broken, err := st.Broken()
	require.NoError(t, err)
	require.Contains(t, broken, types.PackageId("broken-pkg"))

	entry, found, err := st.Peek("broken-pkg")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, types.VariantInstalling, entry.Variant)
}
