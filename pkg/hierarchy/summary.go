package hierarchy

// maxLabels caps the labels kept in a Summary.
const maxLabels = 10

// Summary is a compact view of the current screen for observers.
type Summary struct {
	Elements  int      `json:"elements"`
	Clickable int      `json:"clickable"`
	Inputs    int      `json:"inputs"`
	Labels    []string `json:"labels,omitempty"`
}

// Summarize parses page source and counts what is on screen.
func Summarize(src string) (*Summary, error) {
	elements, err := Parse(src)
	if err != nil {
		return nil, err
	}

	s := &Summary{Elements: len(elements)}
	for _, e := range elements {
		if e.Clickable {
			s.Clickable++
		}
		if e.ClassName == "android.widget.EditText" {
			s.Inputs++
		}
		label := e.Text
		if label == "" {
			label = e.ContentDesc
		}
		if label != "" && len(s.Labels) < maxLabels {
			s.Labels = append(s.Labels, label)
		}
	}
	return s, nil
}
