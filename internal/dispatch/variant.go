package dispatch

import (
	"hash/fnv"

	"github.com/foxzi/courier/internal/models"
)

// AssignVariant picks a variant for clientID using FNV-1a over the
// cumulative weights. When no weight is positive every variant weighs 1.
func AssignVariant(clientID string, variants []models.Variant) *models.Variant {
	if len(variants) == 0 {
		return nil
	}

	weights := make([]uint32, len(variants))
	var total uint32
	for i, v := range variants {
		if v.Weight > 0 {
			weights[i] = uint32(v.Weight)
			total += weights[i]
		}
	}
	if total == 0 {
		for i := range weights {
			weights[i] = 1
		}
		total = uint32(len(weights))
	}

	h := fnv.New32a()
	h.Write([]byte(clientID))
	point := h.Sum32() % total

	var cum uint32
	for i, w := range weights {
		cum += w
		if point < cum {
			return &variants[i]
		}
	}
	return &variants[len(variants)-1]
}
