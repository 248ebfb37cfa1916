package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBackendDescriptorFingerprint(t *testing.T) {
	a := BackendDescriptor{Type: BackendS3, Options: map[string]string{"bucket": "b", "region": "r"}}
	b := BackendDescriptor{Type: BackendS3, Options: map[string]string{"region": "r", "bucket": "b"}}
	c := BackendDescriptor{Type: BackendS3, Options: map[string]string{"bucket": "other", "region": "r"}}

	assert.Equal(t, a.Fingerprint(), b.Fingerprint())
	assert.NotEqual(t, a.Fingerprint(), c.Fingerprint())
	assert.Equal(t, "memory", BackendDescriptor{Type: BackendMemory}.Fingerprint())
}

func TestBackendDescriptorOption(t *testing.T) {
	d := BackendDescriptor{Type: BackendDisc, Options: map[string]string{"path": "/data", "empty": ""}}

	assert.Equal(t, "/data", d.Option("path", "/tmp"))
	assert.Equal(t, "x", d.Option("empty", "x"))
	assert.Equal(t, "y", d.Option("missing", "y"))
}
