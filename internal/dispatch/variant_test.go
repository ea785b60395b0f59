package dispatch

import (
	"fmt"
	"testing"

	"github.com/foxzi/courier/internal/models"
)

func TestAssignVariantStable(t *testing.T) {
	variants := []models.Variant{{Name: "A", Weight: 50}, {Name: "B", Weight: 50}}

	for i := 0; i < 50; i++ {
		id := fmt.Sprintf("client-%d", i)
		first := AssignVariant(id, variants).Name
		for j := 0; j < 5; j++ {
			if got := AssignVariant(id, variants).Name; got != first {
				t.Fatalf("%s assigned %s then %s", id, first, got)
			}
		}
	}
}

func TestAssignVariantProportion(t *testing.T) {
	variants := []models.Variant{{Name: "A", Weight: 80}, {Name: "B", Weight: 20}}

	counts := map[string]int{}
	const n = 10000
	for i := 0; i < n; i++ {
		counts[AssignVariant(fmt.Sprintf("client-%d", i), variants).Name]++
	}

	share := float64(counts["A"]) / n
	if share < 0.75 || share > 0.85 {
		t.Errorf("variant A share = %.3f, want about 0.8", share)
	}
}

func TestAssignVariantZeroWeights(t *testing.T) {
	variants := []models.Variant{{Name: "A"}, {Name: "B"}}

	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		seen[AssignVariant(fmt.Sprintf("c%d", i), variants).Name] = true
	}
	if !seen["A"] || !seen["B"] {
		t.Errorf("zero weights should split evenly, saw %v", seen)
	}
}

func TestAssignVariantNone(t *testing.T) {
	if v := AssignVariant("c1", nil); v != nil {
		t.Errorf("expected nil, got %+v", v)
	}
}
