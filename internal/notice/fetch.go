package notice

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/leosmartdev/prisma-ui-master-sub003/internal/transport"
)

// Pager is the paginated read the HTTP client offers.
type Pager interface {
	GetPage(ctx context.Context, path string, params url.Values) (transport.Page, error)
}

// FetchPage reads one page of notices. Follow Page.Next to read the next.
func FetchPage(ctx context.Context, p Pager, path string, params url.Values) ([]Notice, transport.Page, error) {
	page, err := p.GetPage(ctx, path, params)
	if err != nil {
		return nil, transport.Page{}, err
	}
	var notices []Notice
	if len(page.JSON) > 0 {
		if err := json.Unmarshal(page.JSON, &notices); err != nil {
			return nil, page, fmt.Errorf("decode notices: %w", err)
		}
	}
	return notices, page, nil
}
