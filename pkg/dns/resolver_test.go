package dns

import (
	"net"
	"testing"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/require"
)

func TestResolveReturnsARecordForRegisteredName(t *testing.T) {
	reg := NewRegistrar("embassy")
	require.NoError(t, reg.Register("postgres", net.ParseIP("10.10.0.7")))

	r := NewResolver(reg, "embassy")

	rrs, err := r.Resolve("postgres.embassy.")
	require.NoError(t, err)
	require.Len(t, rrs, 1)

	a, ok := rrs[0].(*dns.A)
	require.True(t, ok)
	require.Equal(t, "10.10.0.7", a.A.String())
	require.Equal(t, "postgres.embassy.", a.Hdr.Name)
}

func TestResolveAcceptsBareNameWithoutDomainSuffix(t *testing.T) {
	reg := NewRegistrar("embassy")
	require.NoError(t, reg.Register("redis", net.ParseIP("10.10.0.8")))

	r := NewResolver(reg, "embassy")

	rrs, err := r.Resolve("redis")
	require.NoError(t, err)
	require.Len(t, rrs, 1)
}

func TestResolveUnknownNameErrors(t *testing.T) {
	reg := NewRegistrar("embassy")
	r := NewResolver(reg, "embassy")

	_, err := r.Resolve("no-such-package.embassy.")
	require.Error(t, err)
}

func TestResolveReflectsUnregister(t *testing.T) {
	reg := NewRegistrar("embassy")
	require.NoError(t, reg.Register("hello-world", net.ParseIP("10.10.0.9")))
	require.NoError(t, reg.Unregister("hello-world"))

	r := NewResolver(reg, "embassy")
	_, err := r.Resolve("hello-world.embassy.")
	require.Error(t, err)
}

func TestRegisterRejectsEmptyNameOrNilIP(t *testing.T) {
	reg := NewRegistrar("embassy")
	require.Error(t, reg.Register("", net.ParseIP("10.10.0.1")))
	require.Error(t, reg.Register("hello-world", nil))
}

func TestMakeFQDNAppendsTrailingDot(t *testing.T) {
	require.Equal(t, "hello.", makeFQDN("hello"))
	require.Equal(t, "hello.", makeFQDN("hello."))
}
