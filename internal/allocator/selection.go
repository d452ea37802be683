package allocator

import (
	"icu-capacity-backend/internal/apperr"
	"icu-capacity-backend/internal/model"
)

// bestBed picks the available bed that covers need with the fewest capabilities, so
// well-equipped beds stay free for patients who need them. Ties go to the lowest id.
func bestBed(beds []model.Bed, need model.Equipment) (model.Bed, bool) {
	var best model.Bed
	found := false
	for _, b := range beds {
		if b.Status != model.BedAvailable || !b.Equipment().Covers(need) {
			continue
		}
		if !found ||
			b.Equipment().Count() < best.Equipment().Count() ||
			(b.Equipment().Count() == best.Equipment().Count() && b.ID < best.ID) {
			best = b
			found = true
		}
	}
	return best, found
}

// suggestBed is bestBed excluding the bed that was just rejected.
func suggestBed(beds []model.Bed, need model.Equipment, exclude int64) *model.Bed {
	b, ok := bestBed(removeBed(beds, exclude), need)
	if !ok {
		return nil
	}
	return &b
}

func removeBed(beds []model.Bed, id int64) []model.Bed {
	out := make([]model.Bed, 0, len(beds))
	for _, b := range beds {
		if b.ID != id {
			out = append(out, b)
		}
	}
	return out
}

// withSuggestion attaches a hint naming an alternative bed, followed by the override advice.
func withSuggestion(err *apperr.Error, suggestion *model.Bed, overrideHint string) *apperr.Error {
	switch {
	case suggestion != nil && overrideHint != "":
		return err.WithHint("bed %s (id %d) is available and compatible; or %s", suggestion.BedNumber, suggestion.ID, overrideHint)
	case suggestion != nil:
		return err.WithHint("bed %s (id %d) is available and compatible", suggestion.BedNumber, suggestion.ID)
	case overrideHint != "":
		return err.WithHint("no compatible bed is available; %s", overrideHint)
	default:
		return err.WithHint("no compatible bed is available")
	}
}
