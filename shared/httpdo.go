package shared

import (
	"context"

	"github.com/valyala/fasthttp"
)

// MaxRedirects matches the redirect limit of the browser-side HTTP clients
// the relay stands in for.
const MaxRedirects = 21

// Do performs req with client, honouring a context deadline when there is
// one. Without a deadline the client's own defaults apply.
func Do(ctx context.Context, client *fasthttp.Client, req *fasthttp.Request, resp *fasthttp.Response) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if client == nil {
		client = defaultClient
	}
	if deadline, ok := ctx.Deadline(); ok {
		return client.DoDeadline(req, resp, deadline)
	}
	return client.Do(req, resp)
}

// DoRedirects is Do following up to maxRedirects redirects, with the method
// rules of fasthttp's Client.DoRedirects: POST becomes GET on 301 and 302,
// 303, 307 and 308 replay the request. Authorization is dropped when a
// redirect leaves the original host.
func DoRedirects(ctx context.Context, client *fasthttp.Client, req *fasthttp.Request, resp *fasthttp.Response, maxRedirects int) error {
	origin := string(req.URI().Host())
	for redirects := 0; ; redirects++ {
		if err := Do(ctx, client, req, resp); err != nil {
			return err
		}
		status := resp.StatusCode()
		if !fasthttp.StatusCodeIsRedirect(status) {
			return nil
		}
		if redirects >= maxRedirects {
			return fasthttp.ErrTooManyRedirects
		}
		location := resp.Header.Peek(fasthttp.HeaderLocation)
		if len(location) == 0 {
			return fasthttp.ErrMissingLocation
		}

		next := fasthttp.AcquireURI()
		next.Update(req.URI().String())
		next.UpdateBytes(location)
		target := next.String()
		sameHost := string(next.Host()) == origin
		fasthttp.ReleaseURI(next)

		req.SetRequestURI(target)
		if !sameHost {
			req.Header.Del(fasthttp.HeaderAuthorization)
		}
		if req.Header.IsPost() && (status == fasthttp.StatusMovedPermanently || status == fasthttp.StatusFound) {
			req.Header.SetMethod(fasthttp.MethodGet)
			req.SetBody(nil)
		}
		resp.Reset()
	}
}

var defaultClient = &fasthttp.Client{
	Name:                     "outspeed-realtime/" + Version,
	NoDefaultUserAgentHeader: false,
}
