package engine

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeDoc(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "Acme_2023_report.pdf")
	if err := os.WriteFile(path, []byte("%PDF-1.4 body"), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestPartition_SendsFormAndDecodes(t *testing.T) {
	var gotForm map[string][]string
	var gotFile, gotKey string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != PartitionPath {
			t.Errorf("path = %s, want %s", r.URL.Path, PartitionPath)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("ParseMultipartForm() error = %v", err)
		}
		gotForm = r.MultipartForm.Value
		gotKey = r.Header.Get("unstructured-api-key")
		f, hdr, err := r.FormFile("files")
		if err != nil {
			t.Errorf("FormFile() error = %v", err)
		} else {
			data, _ := io.ReadAll(f)
			gotFile = hdr.Filename + ":" + string(data)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[
			{"type":"Title","element_id":"e1","text":"Annual Report","metadata":{"page_number":1,"filename":"Acme_2023_report.pdf"}},
			{"type":"Table","element_id":"e2","text":"a b","metadata":{"page_number":2,"parent_id":"e1","text_as_html":"<table></table>","detection_class_prob":0.91,
			 "coordinates":{"points":[[10,20],[10,40],[50,40],[50,20]],"system":"PixelSpace","layout_width":100,"layout_height":200}}}
		]`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/", "secret", 5*time.Second)
	elements, err := c.Partition(context.Background(), writeDoc(t), DefaultOptions("", []string{"eng", "deu"}))
	if err != nil {
		t.Fatalf("Partition() error = %v", err)
	}

	if len(elements) != 2 {
		t.Fatalf("len(elements) = %d, want 2", len(elements))
	}
	if p, ok := elements[1].Page(); !ok || p != 2 {
		t.Errorf("elements[1].Page() = %d, %v", p, ok)
	}
	if !elements[1].IsTable() || elements[1].Metadata.Coordinates == nil {
		t.Errorf("table element not decoded: %+v", elements[1])
	}

	if gotKey != "secret" {
		t.Errorf("api key header = %q", gotKey)
	}
	if gotFile != "Acme_2023_report.pdf:%PDF-1.4 body" {
		t.Errorf("uploaded file = %q", gotFile)
	}
	checks := map[string]string{
		"strategy":                  "hi_res",
		"pdf_infer_table_structure": "true",
		"include_page_breaks":       "true",
		"coordinates":               "true",
	}
	for k, want := range checks {
		if got := gotForm[k]; len(got) != 1 || got[0] != want {
			t.Errorf("form[%s] = %v, want %q", k, got, want)
		}
	}
	if langs := gotForm["languages"]; len(langs) != 2 {
		t.Errorf("form[languages] = %v, want two values", langs)
	}
	if _, ok := gotForm["extract_image_block_types"]; ok {
		t.Error("image extraction requested, want disabled")
	}
}

func TestPartition_StatusError(t *testing.T) {
	tests := []struct {
		status    int
		transient bool
	}{
		{http.StatusServiceUnavailable, true},
		{http.StatusTooManyRequests, true},
		{http.StatusBadRequest, false},
		{http.StatusUnprocessableEntity, false},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				_, _ = io.Copy(io.Discard, r.Body)
				http.Error(w, "nope", tt.status)
			}))
			defer srv.Close()

			path := writeDoc(t)
			_, err := NewClient(srv.URL, "", time.Second).Partition(context.Background(), path, DefaultOptions("hi_res", nil))

			var engErr *Error
			if !errors.As(err, &engErr) {
				t.Fatalf("error = %v, want *engine.Error", err)
			}
			if engErr.StatusCode != tt.status || engErr.Path != path {
				t.Errorf("Error = %+v", engErr)
			}
			if engErr.Transient() != tt.transient {
				t.Errorf("Transient() = %v, want %v", engErr.Transient(), tt.transient)
			}
		})
	}
}

func TestPartition_MissingFile(t *testing.T) {
	c := NewClient("http://127.0.0.1:1", "", time.Second)
	_, err := c.Partition(context.Background(), filepath.Join(t.TempDir(), "gone.pdf"), DefaultOptions("", nil))

	var engErr *Error
	if !errors.As(err, &engErr) {
		t.Fatalf("error = %v, want *engine.Error", err)
	}
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("error does not wrap os.ErrNotExist: %v", err)
	}
}

func TestPartition_BadJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		_, _ = w.Write([]byte(`{"detail":"not a list"}`))
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, "", time.Second).Partition(context.Background(), writeDoc(t), DefaultOptions("", nil))
	if err == nil {
		t.Fatal("Partition() error = nil, want decode error")
	}
}
