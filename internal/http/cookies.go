package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
)

// cookieFile is the export format of browser cookie-manager extensions.
type cookieFile struct {
	Cookies []struct {
		Name  string `json:"name"`
		Value string `json:"value"`
	} `json:"cookies"`
}

// LoadCookies reads a cookie-manager JSON export and returns its cookies.
func LoadCookies(path string) ([]*http.Cookie, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read cookies file: %w", err)
	}

	var cf cookieFile
	if err := json.Unmarshal(data, &cf); err != nil {
		return nil, fmt.Errorf("parse cookies file: %w", err)
	}

	cookies := make([]*http.Cookie, 0, len(cf.Cookies))
	for _, c := range cf.Cookies {
		if c.Name == "" {
			continue
		}
		cookies = append(cookies, &http.Cookie{Name: c.Name, Value: c.Value})
	}
	return cookies, nil
}
