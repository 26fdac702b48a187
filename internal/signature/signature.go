package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// Verify reports whether an inbound processor notification is authentic.
//
// The x-signature header carries comma-separated key=value pairs; the ts
// and v1 pairs are the signed timestamp and the HMAC-SHA256 hex digest of
// the manifest "id:<dataID>;request-id:<requestID>;ts:<ts>;".
//
// An empty secret disables verification entirely. An empty header is
// accepted as a legacy unsigned notification; callers are expected to log
// that case loudly. Any parse failure rejects.
func Verify(secret, header, requestID, dataID string) bool {
	if secret == "" || header == "" {
		return true
	}

	ts, v1, ok := parseHeader(header)
	if !ok {
		return false
	}

	manifest := fmt.Sprintf("id:%s;request-id:%s;ts:%s;", dataID, requestID, ts)

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(manifest))
	expected := hex.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(expected), []byte(v1))
}

func parseHeader(header string) (ts, v1 string, ok bool) {
	for _, part := range strings.Split(header, ",") {
		kv := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch kv[0] {
		case "ts":
			ts = kv[1]
		case "v1":
			v1 = kv[1]
		}
	}

	if ts == "" || v1 == "" {
		return "", "", false
	}
	return ts, v1, true
}
