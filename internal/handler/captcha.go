package handler

import (
	"net/http"

	"github.com/dchest/captcha"
)

// Captcha issues and checks image challenges.
type Captcha interface {
	// New returns the id of a fresh challenge.
	New() string

	// Verify reports whether answer solves id. A challenge can be verified
	// once; a second call for the same id fails.
	Verify(id, answer string) bool
}

// ImageCaptcha serves distorted digit images from the process-wide
// dchest/captcha store.
type ImageCaptcha struct{}

// NewImageCaptcha creates an image captcha backed by the in-memory store.
func NewImageCaptcha() ImageCaptcha {
	return ImageCaptcha{}
}

// New implements Captcha.
func (ImageCaptcha) New() string {
	return captcha.New()
}

// Verify implements Captcha.
func (ImageCaptcha) Verify(id, answer string) bool {
	if id == "" || answer == "" {
		return false
	}
	return captcha.VerifyString(id, answer)
}

// Handler serves /captcha/{id}.png images and their reload.
func (ImageCaptcha) Handler() http.Handler {
	return captcha.Server(captcha.StdWidth, captcha.StdHeight)
}
