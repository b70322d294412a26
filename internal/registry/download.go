package registry

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/Adnuntius/ASgard/internal/commons"
)

const (
	downloadMaxRetries = 3
	downloadRetryDelay = 5 * time.Second
	downloadTimeout    = 10 * time.Minute

	arinBulkBaseURL = "https://accountws.arin.net/public/rest/downloads/bulkwhois/"
)

// Downloader fetches registry dumps into temp files with retries. The long
// client timeout accommodates multi-gigabyte bulk files.
type Downloader struct {
	client *http.Client
	sleep  func(time.Duration)
}

// NewDownloader returns a Downloader with the default timeout.
func NewDownloader() *Downloader {
	return &Downloader{
		client: &http.Client{Timeout: downloadTimeout},
		sleep:  time.Sleep,
	}
}

// FetchToTemp downloads rawURL into a temp file and returns its path. Every
// transport error is retried with a fixed delay; a non-200 status fails the
// attempt without retrying since registry mirrors return stable errors.
func (d *Downloader) FetchToTemp(rawURL string) (string, error) {
	var lastErr error
	for attempt := 0; attempt <= downloadMaxRetries; attempt++ {
		if attempt > 0 {
			commons.Logger.Warnf("Download error for %s: %v (retrying in %s, %d retries left)",
				rawURL, lastErr, downloadRetryDelay, downloadMaxRetries-attempt+1)
			d.sleep(downloadRetryDelay)
		}
		path, err := d.fetchOnce(rawURL)
		if err == nil {
			return path, nil
		}
		if !isRetryableDownloadError(err) {
			return "", err
		}
		lastErr = err
	}
	return "", fmt.Errorf("download %s: %w", rawURL, lastErr)
}

func (d *Downloader) fetchOnce(rawURL string) (string, error) {
	resp, err := d.client.Get(rawURL)
	if err != nil {
		return "", &transientDownloadError{err: fmt.Errorf("fetch %s: %w", rawURL, err)}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		preview := make([]byte, 512)
		n, _ := io.ReadFull(resp.Body, preview)
		return "", fmt.Errorf("fetch %s: status %d, content-type %s, body preview: %s",
			rawURL, resp.StatusCode, resp.Header.Get("Content-Type"), preview[:n])
	}
	temp, err := os.CreateTemp("", "registry-download-*.bin")
	if err != nil {
		return "", fmt.Errorf("create temp download file: %w", err)
	}
	if _, err := io.Copy(temp, resp.Body); err != nil {
		temp.Close()
		os.Remove(temp.Name())
		return "", &transientDownloadError{err: fmt.Errorf("read body of %s: %w", rawURL, err)}
	}
	if err := temp.Close(); err != nil {
		os.Remove(temp.Name())
		return "", fmt.Errorf("close temp download file: %w", err)
	}
	return temp.Name(), nil
}

type transientDownloadError struct{ err error }

func (e *transientDownloadError) Error() string { return e.err.Error() }
func (e *transientDownloadError) Unwrap() error { return e.err }

func isRetryableDownloadError(err error) bool {
	var transient *transientDownloadError
	return errors.As(err, &transient)
}

// ArinBulkURL builds the authenticated URL for one of ARIN's bulk-whois
// export files (asns.xml, orgs.xml, pocs.xml).
func ArinBulkURL(fileName, apiKey string) string {
	return arinBulkBaseURL + fileName + "?apikey=" + url.QueryEscape(apiKey)
}
