package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"murmur/internal/jobs"
	"murmur/internal/scheduler"
)

type client struct {
	base string
	http *http.Client
}

func newClient() (*client, error) {
	base, err := apiBase()
	if err != nil {
		return nil, err
	}
	return &client{base: base, http: &http.Client{Timeout: 5 * time.Minute}}, nil
}

type jobEnvelope struct {
	Job *jobs.Job `json:"job"`
}

type listEnvelope struct {
	Jobs  []*jobs.Job `json:"jobs"`
	Total int         `json:"total"`
}

type statusEnvelope struct {
	Job          *jobs.Job      `json:"job"`
	Progress     *jobs.Progress `json:"progress"`
	LanguageName string         `json:"language_name"`
}

type resultEnvelope struct {
	jobs.Result
	LanguageName string `json:"language_name"`
}

type queueEnvelope struct {
	Queue scheduler.Stats `json:"queue"`
}

func (c *client) get(path string, out any) error {
	req, err := http.NewRequest(http.MethodGet, c.base+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *client) post(path string, out any) error {
	req, err := http.NewRequest(http.MethodPost, c.base+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *client) delete(path string) error {
	req, err := http.NewRequest(http.MethodDelete, c.base+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, nil)
}

// upload streams a media file as multipart form data.
func (c *client) upload(path string, filePath string, fields map[string]string, out any) error {
	file, err := os.Open(filePath)
	if err != nil {
		return err
	}
	defer file.Close()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", filepath.Base(filePath))
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, file); err != nil {
		return err
	}
	for key, value := range fields {
		if err := writer.WriteField(key, value); err != nil {
			return err
		}
	}
	if err := writer.Close(); err != nil {
		return err
	}

	req, err := http.NewRequest(http.MethodPost, c.base+path, &body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return c.do(req, out)
}

func (c *client) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("is murmurd running? %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("%s", apiErr.Error)
		}
		return fmt.Errorf("daemon returned status %d", resp.StatusCode)
	}
	if out == nil || len(body) == 0 {
		return nil
	}
	if flagJSON {
		if raw, ok := out.(*json.RawMessage); ok {
			*raw = body
			return nil
		}
	}
	return json.Unmarshal(body, out)
}

func printJSON(body any) error {
	encoded, err := json.MarshalIndent(body, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(encoded))
	return nil
}
