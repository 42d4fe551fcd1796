package httpclient

import (
	"net"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/errwatch/errwatch/internal/util"
)

func mustParse(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}

func TestValidateURL_SchemeEnforcement(t *testing.T) {
	client := NewSaferClient(5 * time.Second)

	assert.NoError(t, client.ValidateURL(mustParse(t, "https://example.com/hook")))
	assert.Error(t, client.ValidateURL(mustParse(t, "ftp://example.com/file")))
	assert.Error(t, client.ValidateURL(mustParse(t, "file:///etc/passwd")))
}

func TestValidateURL_BlocksLocalhost(t *testing.T) {
	client := NewSaferClient(5 * time.Second)

	for _, raw := range []string{
		"http://localhost:8080/",
		"http://127.0.0.1/",
		"http://[::1]/",
		"http://api.localhost/",
	} {
		assert.Error(t, client.ValidateURL(mustParse(t, raw)), raw)
	}
}

func TestValidateURL_BlocksCredentialInjection(t *testing.T) {
	client := NewSaferClient(5 * time.Second)
	err := client.ValidateURL(mustParse(t, "http://evil.com%40localhost/"))
	assert.Error(t, err)
}

func TestValidateURL_AllowPrivateWhenDisabled(t *testing.T) {
	client := NewSaferClientWithOptions(5*time.Second, SaferClientOptions{
		BlockPrivateIP: util.Ptr(false),
	})

	assert.NoError(t, client.ValidateURL(mustParse(t, "http://localhost:9000/webhook")))
	assert.NoError(t, client.ValidateURL(mustParse(t, "http://10.0.0.5/webhook")))
}

func TestIsPrivateIP(t *testing.T) {
	assert.True(t, isPrivateIP(net.ParseIP("10.1.2.3")))
	assert.True(t, isPrivateIP(net.ParseIP("192.168.0.1")))
	assert.True(t, isPrivateIP(net.ParseIP("127.0.0.1")))
	assert.True(t, isPrivateIP(net.ParseIP("0.0.0.0")))
	assert.False(t, isPrivateIP(net.ParseIP("93.184.216.34")))
}
