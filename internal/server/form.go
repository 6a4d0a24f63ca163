package server

import (
	_ "embed"
	"fmt"
	"html/template"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/YuminosukeSato/churnkit/churn"
)

//go:embed templates/form.html
var formHTML string

var formTemplate = template.Must(template.New("form").Parse(formHTML))

// formField is one schema column rendered as a form control. A field
// with Levels renders as a select, anything else as a number input;
// the schema has no free-text columns.
type formField struct {
	Name   string
	Value  string
	Error  string
	Levels []string
}

type formView struct {
	Banner     string
	Fields     []formField
	Prediction *churn.Prediction
	Percent    string
	Churner    bool
	Model      *churn.Metadata
	Plots      []string
}

// handleForm renders the empty scoring form.
func (s *Server) handleForm(w http.ResponseWriter, r *http.Request) {
	view := s.buildFormView(nil, nil)
	if view.Model == nil {
		view.Banner = "No trained model is loaded yet. Predictions are unavailable."
	}
	s.renderForm(w, http.StatusOK, view)
}

// handleFormSubmit scores a browser submission and re-renders the form
// with the result, or with the errors and the submitted values kept in
// place when validation fails.
func (s *Server) handleFormSubmit(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		view := s.buildFormView(nil, nil)
		view.Banner = "The submitted form could not be read."
		s.renderForm(w, http.StatusBadRequest, view)
		return
	}

	fields := make(map[string]string, len(churn.InputFields()))
	for _, spec := range churn.InputFields() {
		fields[spec.Name] = strings.TrimSpace(r.PostFormValue(spec.Name))
	}

	sm := s.current.Load()
	if sm == nil {
		view := s.buildFormView(fields, nil)
		view.Banner = "No trained model is loaded yet. Predictions are unavailable."
		s.renderForm(w, http.StatusServiceUnavailable, view)
		return
	}

	in, err := churn.InputFromFields(fields)
	if err != nil {
		view := s.buildFormView(fields, nil)
		view.Banner = "Some fields could not be read. " + err.Error()
		s.renderForm(w, http.StatusBadRequest, view)
		return
	}
	if err := in.Validate(); err != nil {
		view := s.buildFormView(fields, churn.FieldErrors(err))
		view.Banner = "Please fill in the highlighted fields."
		s.renderForm(w, http.StatusBadRequest, view)
		return
	}

	p, _, err := s.predict(sm, in)
	if err != nil {
		s.log.Error().Err(err).Msg("prediction failed")
		view := s.buildFormView(fields, nil)
		view.Banner = "The model could not score this record."
		s.renderForm(w, http.StatusInternalServerError, view)
		return
	}
	s.record(r, sm, in, p, sourceForm)

	view := s.buildFormView(fields, nil)
	view.Prediction = p
	view.Percent = fmt.Sprintf("%.1f%%", p.Probability*100)
	view.Churner = p.Label == p.PositiveLabel
	s.renderForm(w, http.StatusOK, view)
}

// buildFormView assembles the template data: every schema field with
// its submitted value and error, the live model's metadata, and
// whichever evaluation plots exist on disk.
func (s *Server) buildFormView(values, errors map[string]string) formView {
	specs := churn.InputFields()
	view := formView{Fields: make([]formField, 0, len(specs))}
	for _, spec := range specs {
		view.Fields = append(view.Fields, formField{
			Name:   spec.Name,
			Value:  values[spec.Name],
			Error:  errors[spec.Name],
			Levels: spec.Levels,
		})
	}
	if sm := s.current.Load(); sm != nil {
		meta := sm.artifact.Meta
		view.Model = &meta
	}
	if dir := s.cfg.Artifact.PlotDir; dir != "" {
		for _, name := range []string{"roc.png", "pr.png"} {
			if _, err := os.Stat(filepath.Join(dir, name)); err == nil {
				view.Plots = append(view.Plots, "/artifacts/"+name)
			}
		}
	}
	return view
}

func (s *Server) renderForm(w http.ResponseWriter, status int, view formView) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := formTemplate.Execute(w, view); err != nil {
		s.log.Warn().Err(err).Msg("form page could not be rendered")
	}
}
