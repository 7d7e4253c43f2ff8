package store

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"net"

	"github.com/cuemby/embassyd/pkg/types"
)

var bucketIPPool = []byte("ip-pool")

// defaultPoolBase and defaultPoolNextHost seed a fresh database's IP
// pool: package main services get sequential addresses starting at
// 10.20.0.2, leaving .0/.1 as network/gateway.
const (
	defaultPoolBase     = "10.20.0.0"
	defaultPoolNextHost = 2
)

// ipPoolDoc is the single JSON document backing the ip-pool bucket.
// Allocated remembers each package's address so a retried install (the
// same pkg committed twice without ever being freed) is idempotent
// rather than leaking a second address.
type ipPoolDoc struct {
	Base      string                    `json:"base"`
	NextHost  uint32                    `json:"next_host"`
	Allocated map[types.PackageId]string `json:"allocated"`
}

func loadPoolDoc(tx *Tx) (ipPoolDoc, error) {
	var doc ipPoolDoc
	data := tx.tx.Bucket(bucketIPPool).Get([]byte("pool"))
	if data == nil {
		return ipPoolDoc{
			Base:      defaultPoolBase,
			NextHost:  defaultPoolNextHost,
			Allocated: make(map[types.PackageId]string),
		}, nil
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return ipPoolDoc{}, fmt.Errorf("unmarshaling ip pool: %w", err)
	}
	if doc.Allocated == nil {
		doc.Allocated = make(map[types.PackageId]string)
	}
	return doc, nil
}

func savePoolDoc(tx *Tx, doc ipPoolDoc) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshaling ip pool: %w", err)
	}
	return tx.tx.Bucket(bucketIPPool).Put([]byte("pool"), data)
}

// AllocateIP hands pkg the next free address in the pool, persisting
// the updated pool within tx. Allocating the same package twice without
// an intervening release returns its existing address, matching
// spec.md's requirement that install retries remain idempotent.
func (t *Tx) AllocateIP(pkg types.PackageId) (net.IP, error) {
	doc, err := loadPoolDoc(t)
	if err != nil {
		return nil, err
	}

	if existing, ok := doc.Allocated[pkg]; ok {
		return net.ParseIP(existing), nil
	}

	base := net.ParseIP(doc.Base).To4()
	if base == nil {
		return nil, fmt.Errorf("ip pool base %q is not a valid IPv4 address", doc.Base)
	}
	baseInt := binary.BigEndian.Uint32(base)
	ip := make(net.IP, 4)
	binary.BigEndian.PutUint32(ip, baseInt+doc.NextHost)

	doc.Allocated[pkg] = ip.String()
	doc.NextHost++

	if err := savePoolDoc(t, doc); err != nil {
		return nil, err
	}
	return ip, nil
}

// ReleaseIP frees pkg's address back to the pool, persisting within tx.
// Releasing an unallocated package is a no-op.
func (t *Tx) ReleaseIP(pkg types.PackageId) error {
	doc, err := loadPoolDoc(t)
	if err != nil {
		return err
	}
	if _, ok := doc.Allocated[pkg]; !ok {
		return nil
	}
	delete(doc.Allocated, pkg)
	return savePoolDoc(t, doc)
}
