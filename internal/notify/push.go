package notify

import (
	"context"
	"io"
	"log"
	"regexp"
	"slices"

	"github.com/nicholas-fedor/shoutrrr"
	"github.com/nicholas-fedor/shoutrrr/pkg/types"

	"github.com/tphakala/threatlink/internal/conf"
	"github.com/tphakala/threatlink/internal/errors"
)

// serviceURLPattern matches service URLs so credentials never reach logs.
var serviceURLPattern = regexp.MustCompile(`[a-z][a-z0-9+.-]*://\S+`)

// Sender delivers a titled message to every configured service.
type Sender interface {
	Send(ctx context.Context, title, message string) error
}

// messageRouter is the subset of shoutrrr's router the sender uses.
type messageRouter interface {
	Send(message string, params *types.Params) []error
}

// PushSender sends alerts through shoutrrr service URLs.
type PushSender struct {
	router messageRouter
	urls   int
}

// NewPushSender builds one shoutrrr router for all urls.
func NewPushSender(settings conf.NotificationSettings) (*PushSender, error) {
	if len(settings.URLs) == 0 {
		return nil, errors.ValidationError("at least one notification url is required")
	}
	router, err := shoutrrr.CreateSender(slices.Clone(settings.URLs)...)
	if err != nil {
		return nil, errors.New(scrub(err)).
			Component("notify").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if settings.Timeout > 0 {
		router.Timeout = settings.Timeout
	}
	router.SetLogger(log.New(io.Discard, "", 0))
	return &PushSender{router: router, urls: len(settings.URLs)}, nil
}

// Send delivers to every service and reports the first failure.
func (s *PushSender) Send(ctx context.Context, title, message string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	params := types.Params{}
	params.SetTitle(title)

	var failed []error
	for _, err := range s.router.Send(message, &params) {
		if err != nil {
			failed = append(failed, scrub(err))
		}
	}
	if len(failed) == 0 {
		return nil
	}
	return errors.New(failed[0]).
		Component("notify").
		Category(errors.CategoryNotification).
		Context("failed_services", len(failed)).
		Context("services", s.urls).
		Build()
}

// scrub replaces service URLs in err's message.
func scrub(err error) error {
	return errors.NewStd(serviceURLPattern.ReplaceAllString(err.Error(), "[service-url]"))
}
