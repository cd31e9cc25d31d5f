package identity

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidate_SyntaxOnly(t *testing.T) {
	v := NewWorkloadValidator([]string{"prod.example.com"})

	assert.NoError(t, v.Validate("spiffe://prod.example.com/workload/api"))
	assert.NoError(t, v.Validate("spiffe://other.example.com/workload/api"))
	assert.Error(t, v.Validate("not-a-spiffe-id"))
	assert.Error(t, v.Validate("https://prod.example.com/workload/api"))
}

func TestTrusted_DomainAllowList(t *testing.T) {
	v := NewWorkloadValidator([]string{"prod.example.com", "staging.example.com"})

	assert.True(t, v.Trusted("spiffe://prod.example.com/workload/api"))
	assert.True(t, v.Trusted("spiffe://staging.example.com/workload/batch"))
	assert.False(t, v.Trusted("spiffe://evil.example.com/workload/api"))
	assert.False(t, v.Trusted("garbage"))
}

func TestTrusted_EmptyAllowListTrustsNothing(t *testing.T) {
	v := NewWorkloadValidator(nil)
	assert.False(t, v.Trusted("spiffe://prod.example.com/workload/api"))
}

func TestWorkloadID(t *testing.T) {
	assert.Equal(t, "spiffe://prod.example.com/workload/accessd",
		WorkloadID("prod.example.com", "accessd"))
}
