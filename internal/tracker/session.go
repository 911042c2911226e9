package tracker

// Session carries values that outlive a single run, such as the file the
// job runner is currently configured for.
type Session struct {
	CurrentFile string `json:"current_file,omitempty"`
}

func (w *Writer) LoadSession() (Session, error) {
	var s Session
	_, err := readJSON(w.SessionPath, &s)
	return s, err
}

func (w *Writer) SetCurrentFile(name string) error {
	s, err := w.LoadSession()
	if err != nil {
		return err
	}
	s.CurrentFile = name
	return writeJSONAtomic(w.SessionPath, s)
}
