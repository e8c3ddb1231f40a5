package sweep

import (
	"fmt"
	"time"

	"custody/internal/custody/models"
	id "custody/pkg/domain"
)

// Class names one reason a form needs attention. A form can fall into
// several classes at once.
type Class string

const (
	ClassExpired      Class = "expired"
	ClassNoSignatures Class = "no_signatures"
	ClassIncomplete   Class = "incomplete"
	ClassExpiringSoon Class = "expiring_soon"
)

const (
	noSignaturesAfter = 24 * time.Hour
	incompleteAfter   = 48 * time.Hour
	expiringWithin    = 4 * time.Hour
)

// Alert is one notification-worthy finding for one form.
type Alert struct {
	FormID     id.FormID     `json:"form_id"`
	PublicID   string        `json:"public_id"`
	ManifestID id.ManifestID `json:"manifest_id"`
	Class      Class         `json:"class"`
	Message    string        `json:"message"`
}

// Classify returns every class form falls into at now, in a fixed order.
func Classify(form *models.Form, now time.Time) []Class {
	if form.Status.IsTerminal() {
		return nil
	}
	var classes []Class
	expired := form.IsExpired(now)
	age := now.Sub(form.CreatedAt)

	if expired {
		classes = append(classes, ClassExpired)
	}
	if form.CompletedSignatures == 0 && age > noSignaturesAfter {
		classes = append(classes, ClassNoSignatures)
	}
	if form.CompletedSignatures > 0 && form.CompletedSignatures < form.RequiredSignatures && age > incompleteAfter {
		classes = append(classes, ClassIncomplete)
	}
	if !expired && !form.ExpiresAt.IsZero() && form.ExpiresAt.Sub(now) <= expiringWithin {
		classes = append(classes, ClassExpiringSoon)
	}
	return classes
}

// Evaluate builds the alerts for a batch of forms.
func Evaluate(forms []*models.Form, now time.Time) []Alert {
	var alerts []Alert
	for _, form := range forms {
		for _, class := range Classify(form, now) {
			alerts = append(alerts, Alert{
				FormID:     form.ID,
				PublicID:   form.PublicID,
				ManifestID: form.ManifestID,
				Class:      class,
				Message:    message(form, class, now),
			})
		}
	}
	return alerts
}

func message(form *models.Form, class Class, now time.Time) string {
	switch class {
	case ClassExpired:
		return fmt.Sprintf("CoC form %s for manifest %s expired at %s with %d of %d signatures",
			form.PublicID, form.ManifestID, form.ExpiresAt.Format(time.RFC3339), form.CompletedSignatures, form.RequiredSignatures)
	case ClassNoSignatures:
		return fmt.Sprintf("CoC form %s for manifest %s has no signatures after %s",
			form.PublicID, form.ManifestID, now.Sub(form.CreatedAt).Truncate(time.Minute))
	case ClassIncomplete:
		return fmt.Sprintf("CoC form %s for manifest %s has %d of %d signatures after %s",
			form.PublicID, form.ManifestID, form.CompletedSignatures, form.RequiredSignatures, now.Sub(form.CreatedAt).Truncate(time.Minute))
	case ClassExpiringSoon:
		return fmt.Sprintf("CoC form %s for manifest %s expires in %s with %d of %d signatures",
			form.PublicID, form.ManifestID, form.ExpiresAt.Sub(now).Truncate(time.Minute), form.CompletedSignatures, form.RequiredSignatures)
	default:
		return fmt.Sprintf("CoC form %s for manifest %s needs attention", form.PublicID, form.ManifestID)
	}
}
