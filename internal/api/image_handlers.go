package api

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/dunamismax/pixelgate/internal/chain"
	"github.com/dunamismax/pixelgate/internal/domain"
	"github.com/dunamismax/pixelgate/internal/imageops"
	"github.com/dunamismax/pixelgate/internal/params"
)

const (
	endpointPipeline = "pipeline"
	uploadField      = "image"
	operationsField  = "operations"

	// multipartOverhead leaves room for boundaries and form fields on top
	// of the file itself.
	multipartOverhead = 64 << 10
)

func (s *Server) handleOperation(op domain.OperationType) http.HandlerFunc {
	handler := s.handlers[string(op)]
	return func(w http.ResponseWriter, r *http.Request) {
		buf, fields, err := s.readUpload(w, r)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		defer r.MultipartForm.RemoveAll()

		p, err := params.ForType(op, fields)
		if err != nil {
			s.writeError(w, r, err)
			return
		}

		rc := chain.NewRequestContext(requestIDFrom(r.Context()), string(op), bearerToken(r), p)
		s.serveChain(w, r, handler, rc, buf)
	}
}

func (s *Server) handlePipeline(w http.ResponseWriter, r *http.Request) {
	buf, fields, err := s.readUpload(w, r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	defer r.MultipartForm.RemoveAll()

	raw, ok := fields[operationsField]
	if !ok {
		reason := "is required"
		if _, legacy := fields["steps"]; legacy {
			reason = `is required; the "steps" field is not accepted`
		}
		s.writeError(w, r, &domain.ValidationError{Field: operationsField, Reason: reason})
		return
	}
	p, err := params.Pipeline(raw)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	rc := chain.NewRequestContext(requestIDFrom(r.Context()), endpointPipeline, bearerToken(r), p)
	s.serveChain(w, r, s.handlers[endpointPipeline], rc, buf)
}

func (s *Server) serveChain(w http.ResponseWriter, r *http.Request, h chain.Handler, rc *chain.RequestContext, buf []byte) {
	out, err := h.Handle(r.Context(), rc, buf)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.metrics.imageBytes.WithLabelValues("in").Add(float64(len(buf)))
	s.metrics.imageBytes.WithLabelValues("out").Add(float64(len(out)))

	info := imageops.Describe(out)
	ext := info.Extension
	if ext == "" {
		ext = "bin"
	}
	w.Header().Set("Content-Type", info.MIME)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="processed-image.%s"`, ext))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(out)
}

// readUpload parses the multipart body and returns the image bytes plus the
// first value of every other form field. On success r.MultipartForm is set.
func (s *Server) readUpload(w http.ResponseWriter, r *http.Request) ([]byte, map[string]any, error) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload+multipartOverhead)
	if err := r.ParseMultipartForm(s.maxUpload); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, nil, err
		}
		return nil, nil, &domain.ValidationError{Field: uploadField, Reason: "expected a multipart/form-data body"}
	}

	file, header, err := r.FormFile(uploadField)
	if err != nil {
		r.MultipartForm.RemoveAll()
		return nil, nil, &domain.ValidationError{Field: uploadField, Reason: "is required"}
	}
	defer file.Close()

	if header.Size > s.maxUpload {
		r.MultipartForm.RemoveAll()
		return nil, nil, &http.MaxBytesError{Limit: s.maxUpload}
	}
	buf, err := io.ReadAll(file)
	if err != nil {
		r.MultipartForm.RemoveAll()
		return nil, nil, fmt.Errorf("read upload: %w", err)
	}
	if err := checkMediaType(buf); err != nil {
		r.MultipartForm.RemoveAll()
		return nil, nil, err
	}
	return buf, formFields(r.MultipartForm), nil
}

// checkMediaType admits only formats the active backend can decode.
func checkMediaType(buf []byte) error {
	if mediaType, ok := imageops.Decodable(buf); !ok {
		return &domain.UnsupportedMediaError{MediaType: mediaType}
	}
	return nil
}

func formFields(form *multipart.Form) map[string]any {
	fields := make(map[string]any, len(form.Value))
	for key, values := range form.Value {
		if len(values) == 0 {
			continue
		}
		fields[key] = values[0]
	}
	return fields
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
