package severity

import (
	"fmt"
	"strings"
)

// Interpretation returns the narrative paragraph used in reports
func Interpretation(score float64, sev Severity) string {
	var b strings.Builder
	fmt.Fprintf(&b, "The aortic valve calcium score of %.1f AU ", score)

	switch sev {
	case Severe:
		b.WriteString("indicates severe aortic valve calcification, ")
		b.WriteString("which is highly suggestive of severe aortic stenosis. ")
		b.WriteString("Clinical correlation with echocardiography is recommended. ")
		b.WriteString("Patient may be candidate for aortic valve intervention (TAVR/SAVR).")
	case Moderate:
		b.WriteString("indicates moderate aortic valve calcification. ")
		b.WriteString("This suggests at least moderate aortic stenosis. ")
		b.WriteString("Follow-up with echocardiography is recommended for hemodynamic assessment.")
	case Mild:
		b.WriteString("indicates mild aortic valve calcification. ")
		b.WriteString("This may represent early aortic valve disease. ")
		b.WriteString("Regular monitoring and risk factor management are recommended.")
	default:
		b.WriteString("indicates minimal or no significant aortic valve calcification. ")
		b.WriteString("This is within normal limits.")
	}

	return b.String()
}
