package service

import (
	"io"
	"net/http"
	"time"
)

func GetExpiresAt(expiresIn int) time.Time {
	return time.Now().Add(time.Duration(expiresIn) * time.Second)
}

// readBody drains a response body for error reporting, capped so a platform
// cannot flood our error messages.
func readBody(resp *http.Response) []byte {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 16*1024))
	return body
}
