package auth

import (
	"context"
	"errors"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"studygroup-assistant/inspect"
	"studygroup-assistant/logger"
)

type scriptedFetcher struct {
	pages []*inspect.Page
	err   error
	calls []url.Values
}

func (s *scriptedFetcher) Post(ctx context.Context, target *url.URL, form url.Values) (*inspect.Page, error) {
	s.calls = append(s.calls, form)
	if s.err != nil {
		return nil, s.err
	}
	i := len(s.calls) - 1
	if i >= len(s.pages) {
		i = len(s.pages) - 1
	}
	return s.pages[i], nil
}

func mustURL(t *testing.T, raw string) *url.URL {
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}

func pendingPage(t *testing.T) *inspect.Page {
	return &inspect.Page{URL: mustURL(t, "https://login.example/common/login"), HTML: `<div id="idRichContext_DisplaySign">42</div>`}
}

func TestScheduleAttemptLimit(t *testing.T) {
	clock := NewFakeClock(time.Unix(0, 0))
	s := NewSchedule(clock, 3*time.Second, 5*time.Minute)
	assert.Equal(t, 100, s.Max())

	n := 0
	for s.Next(context.Background()) {
		n++
	}
	assert.Equal(t, 100, n)
	assert.Equal(t, time.Unix(300, 0), clock.Now())
}

func TestScheduleAtLeastOneAttempt(t *testing.T) {
	s := NewSchedule(NewFakeClock(time.Unix(0, 0)), 10*time.Second, time.Second)
	assert.Equal(t, 1, s.Max())
}

func TestScheduleStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s := NewSchedule(NewFakeClock(time.Unix(0, 0)), time.Second, time.Minute)
	assert.False(t, s.Next(ctx))
}

func TestAwaitApprovalNotifiesBeforePolling(t *testing.T) {
	challenge := pendingPage(t)
	fetcher := &scriptedFetcher{pages: []*inspect.Page{challenge}}

	var order []string
	poller := NewPoller(fetcher, NewFakeClock(time.Unix(0, 0)), func(code string) {
		order = append(order, "notify:"+code)
	}, []string{"idRichContext_DisplaySign"}, logger.Discard())

	wrapped := &orderFetcher{inner: fetcher, order: &order}
	poller.fetcher = wrapped

	_, err := poller.AwaitApproval(context.Background(), Challenge{
		DisplayCode: "12-34",
		PollURL:     mustURL(t, "https://login.example/common/SAS/EndAuth"),
		Interval:    time.Second,
		Timeout:     2 * time.Second,
		Page:        challenge,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"notify:12-34", "poll", "poll"}, order)
}

type orderFetcher struct {
	inner Fetcher
	order *[]string
}

func (o *orderFetcher) Post(ctx context.Context, target *url.URL, form url.Values) (*inspect.Page, error) {
	*o.order = append(*o.order, "poll")
	return o.inner.Post(ctx, target, form)
}

func TestAwaitApprovalDeadlineReturnsLastPage(t *testing.T) {
	challenge := pendingPage(t)
	last := &inspect.Page{URL: mustURL(t, "https://login.example/common/SAS/EndAuth"), HTML: `<div id="idRichContext_DisplaySign">42</div><p>still waiting</p>`}
	fetcher := &scriptedFetcher{pages: []*inspect.Page{challenge, last}}
	clock := NewFakeClock(time.Unix(0, 0))

	poller := NewPoller(fetcher, clock, func(string) {}, []string{"idRichContext_DisplaySign"}, logger.Discard())
	page, err := poller.AwaitApproval(context.Background(), Challenge{
		PollURL:  mustURL(t, "https://login.example/common/SAS/EndAuth"),
		Fields:   url.Values{"flowToken": {"ft"}},
		Interval: 3 * time.Second,
		Timeout:  12 * time.Second,
		Page:     challenge,
	})
	require.NoError(t, err)
	assert.Same(t, last, page)
	assert.Len(t, fetcher.calls, 4)
	assert.Equal(t, time.Unix(12, 0), clock.Now())
}

func TestAwaitApprovalRequiresURLChange(t *testing.T) {
	challenge := pendingPage(t)
	sameURLNoMarker := &inspect.Page{URL: challenge.URL, HTML: `<p>nothing pending here</p>`}
	moved := &inspect.Page{URL: mustURL(t, "https://portal.example/home"), HTML: `<h1>Home</h1>`}
	fetcher := &scriptedFetcher{pages: []*inspect.Page{sameURLNoMarker, moved}}

	poller := NewPoller(fetcher, NewFakeClock(time.Unix(0, 0)), func(string) {}, []string{"idRichContext_DisplaySign"}, logger.Discard())
	page, err := poller.AwaitApproval(context.Background(), Challenge{
		PollURL:  challenge.URL,
		Interval: time.Second,
		Timeout:  time.Minute,
		Page:     challenge,
	})
	require.NoError(t, err)
	assert.Same(t, moved, page)
	assert.Len(t, fetcher.calls, 2)
}

func TestAwaitApprovalRefreshesTokens(t *testing.T) {
	challenge := pendingPage(t)
	refreshed := &inspect.Page{
		URL:  challenge.URL,
		HTML: `<script>$Config={"sFT":"ft-2","sCtx":"ctx-2"};</script><div id="idRichContext_DisplaySign">42</div>`,
	}
	fetcher := &scriptedFetcher{pages: []*inspect.Page{refreshed, refreshed}}

	poller := NewPoller(fetcher, NewFakeClock(time.Unix(0, 0)), func(string) {}, []string{"idRichContext_DisplaySign"}, logger.Discard())
	_, err := poller.AwaitApproval(context.Background(), Challenge{
		PollURL:  challenge.URL,
		Fields:   url.Values{"flowToken": {"ft-1"}},
		Interval: time.Second,
		Timeout:  2 * time.Second,
		Page:     challenge,
	})
	require.NoError(t, err)
	require.Len(t, fetcher.calls, 2)
	assert.Equal(t, "ft-1", fetcher.calls[0].Get("flowToken"))
	assert.Equal(t, "ft-2", fetcher.calls[1].Get("flowToken"))
	assert.Equal(t, "ctx-2", fetcher.calls[1].Get("ctx"))
}

func TestAwaitApprovalTransportErrorIsFatal(t *testing.T) {
	challenge := pendingPage(t)
	fetcher := &scriptedFetcher{err: errors.New("connection reset")}

	poller := NewPoller(fetcher, NewFakeClock(time.Unix(0, 0)), func(string) {}, nil, logger.Discard())
	page, err := poller.AwaitApproval(context.Background(), Challenge{
		PollURL:  challenge.URL,
		Interval: time.Second,
		Timeout:  time.Minute,
		Page:     challenge,
	})
	require.Error(t, err)
	assert.Same(t, challenge, page)
	assert.Len(t, fetcher.calls, 1)
}
