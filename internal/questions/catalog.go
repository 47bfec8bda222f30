// Package questions holds the fixed interview question catalog.
package questions

// Version identifies the catalog revision. Bump it whenever the question
// list changes so stored interviews can be traced to the wording they saw.
const Version = 1

var catalog = []string{
	"Hello, Thank you for joining us today. School Professionals staffs substitute teachers in Charter, Private, and Independent schools, as well as NYC’s Pre-K for All (UPK) program. We work with schools across all five boroughs, offering both short- and long-term assignments, and you choose which fit your schedule. The only requirement is working at least four days per month. This is a great way to gain classroom experience while working at different schools. Are you interested in moving forward?",
	"How did you hear about us?",
}

// Catalog returns the ordered interview questions. The returned slice is a
// copy and may be modified by the caller.
func Catalog() []string {
	out := make([]string, len(catalog))
	copy(out, catalog)
	return out
}

// Len returns the number of catalog questions.
func Len() int { return len(catalog) }

// At returns the question at index i and whether i is within the catalog.
func At(i int) (string, bool) {
	if i < 0 || i >= len(catalog) {
		return "", false
	}
	return catalog[i], true
}
