package imagegen

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/fulmine-labs/sparks/internal/mimes"
)

const DefaultDownloadTimeout = 30 * time.Second

type Downloader struct {
	client *resty.Client
}

func NewDownloader(timeout time.Duration) *Downloader {
	if timeout <= 0 {
		timeout = DefaultDownloadTimeout
	}
	return &Downloader{
		client: resty.New().SetTimeout(timeout),
	}
}

// Fetch downloads every URL concurrently. The result is index aligned with
// urls; a failed download leaves a nil entry.
func (d *Downloader) Fetch(ctx context.Context, urls []string) [][]byte {
	var (
		wg     sync.WaitGroup
		images = make([][]byte, len(urls))
	)

	wg.Add(len(urls))
	for i, u := range urls {
		go func(i int, u string) {
			defer wg.Done()

			data, err := d.get(ctx, u)
			if err != nil {
				log.Printf("imagegen: download %v: %v", u, err)
				return
			}
			images[i] = data
		}(i, u)
	}
	wg.Wait()

	return images
}

func (d *Downloader) get(ctx context.Context, u string) ([]byte, error) {
	resp, err := d.client.R().SetContext(ctx).Get(u)
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, fmt.Errorf("http %s", resp.Status())
	}
	return resp.Body(), nil
}

// EncodeBase64 converts images to data URIs. Nil entries become "".
func EncodeBase64(images [][]byte, names []string) []string {
	out := make([]string, len(images))
	for i, data := range images {
		if data == nil {
			continue
		}
		var name string
		if i < len(names) {
			name = names[i]
		}
		out[i] = mimes.DataURI(mimes.Detect(data, name), data)
	}
	return out
}
