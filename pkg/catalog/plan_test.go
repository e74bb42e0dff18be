package catalog_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dmitrymomot/creditkit/pkg/catalog"
)

func TestTierFor(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		want catalog.Tier
	}{
		{"Free Plan", catalog.TierFree},
		{"Basic Plan", catalog.TierBasic},
		{"Premium Plan", catalog.TierPremium},
		{"Enterprise Plan", catalog.TierEnterprise},
		{"Acme Premium Monthly", catalog.TierPremium},
		{"ENTERPRISE Annual", catalog.TierEnterprise},
		{"free forever", catalog.TierFree},
		{"Starter", catalog.TierBasic},
		{"", catalog.TierBasic},
		{"Pro", catalog.TierBasic},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, catalog.TierFor(tt.name), "plan name %q", tt.name)
	}
}

func TestCreditsFromMetadata(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		metadata map[string]string
		want     int64
	}{
		{"present", map[string]string{"initial_credits": "150"}, 150},
		{"with spaces", map[string]string{"initial_credits": " 42 "}, 42},
		{"missing key", map[string]string{"monthly_credits": "10"}, 0},
		{"nil metadata", nil, 0},
		{"non-numeric", map[string]string{"initial_credits": "lots"}, 0},
		{"float", map[string]string{"initial_credits": "1.5"}, 0},
		{"negative", map[string]string{"initial_credits": "-5"}, 0},
		{"zero", map[string]string{"initial_credits": "0"}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, catalog.CreditsFromMetadata(tt.metadata, "initial_credits"))
		})
	}
}
