package order

import (
	"fmt"
	"time"
)

// LamportsPerSOL is the smallest SOL unit conversion; 1 SOL = 1e9 lamports.
const LamportsPerSOL int64 = 1_000_000_000

// priceTable maps product type and tier to the expected charge in lamports.
var priceTable = map[ProductType]map[ServiceTier]int64{
	ProductAppOnly: {
		TierStarter:      100_000_000, // 0.1 SOL
		TierProfessional: 250_000_000, // 0.25 SOL
		TierEnterprise:   600_000_000, // 0.6 SOL
	},
	ProductTokenOnly: {
		TierStarter:      80_000_000,  // 0.08 SOL
		TierProfessional: 200_000_000, // 0.2 SOL
		TierEnterprise:   500_000_000, // 0.5 SOL
	},
	ProductBundle: {
		TierStarter:      150_000_000,   // 0.15 SOL
		TierProfessional: 400_000_000,   // 0.4 SOL
		TierEnterprise:   1_000_000_000, // 1 SOL
	},
}

// ExpectedPrice returns the charge in lamports for a project spec.
func ExpectedPrice(spec ProjectSpec) (int64, error) {
	tiers, ok := priceTable[spec.ProductType]
	if !ok {
		return 0, fmt.Errorf("%w: unknown product type %q", ErrValidation, spec.ProductType)
	}
	price, ok := tiers[spec.Tier]
	if !ok {
		return 0, fmt.Errorf("%w: unknown service tier %q", ErrValidation, spec.Tier)
	}
	return price, nil
}

// Download gate policy. The token TTL is a deliberate constant: the source
// convention was an undocumented short-lived token, fixed here at 72 hours
// so a weekend purchase stays retrievable.
const (
	DefaultMaxDownloads = 10
	DownloadTokenTTL    = 72 * time.Hour
)
