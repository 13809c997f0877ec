package connector

import (
	"fmt"
	"net"
	"strings"
	"time"
)

// wellKnownIMAP maps popular mail domains to their IMAP endpoints so the
// common case never needs a network probe.
var wellKnownIMAP = map[string]string{
	"gmail.com":      "imap.gmail.com:993",
	"googlemail.com": "imap.gmail.com:993",
	"outlook.com":    "outlook.office365.com:993",
	"hotmail.com":    "outlook.office365.com:993",
	"live.com":       "outlook.office365.com:993",
	"msn.com":        "outlook.office365.com:993",
	"yahoo.com":      "imap.mail.yahoo.com:993",
	"yahoo.co.uk":    "imap.mail.yahoo.com:993",
	"yandex.ru":      "imap.yandex.ru:993",
	"yandex.com":     "imap.yandex.com:993",
	"mail.ru":        "imap.mail.ru:993",
	"icloud.com":     "imap.mail.me.com:993",
	"me.com":         "imap.mail.me.com:993",
	"mac.com":        "imap.mail.me.com:993",
	"aol.com":        "imap.aol.com:993",
	"zoho.com":       "imap.zoho.com:993",
	"protonmail.com": "127.0.0.1:1143", // ProtonMail Bridge
	"proton.me":      "127.0.0.1:1143",
	"fastmail.com":   "imap.fastmail.com:993",
	"gmx.com":        "imap.gmx.com:993",
	"gmx.de":         "imap.gmx.net:993",
	"web.de":         "imap.web.de:993",
}

// ResolveIMAPServer finds the host:port endpoint for a mail address when the
// account credentials do not name one. Unknown domains are probed on common
// host patterns, then on hosts derived from the domain's MX records; when
// nothing answers, the conventional imap.<domain>:993 is returned so the
// login attempt itself produces the actionable error.
func ResolveIMAPServer(address string) (string, error) {
	_, domain, ok := strings.Cut(address, "@")
	if !ok || domain == "" || strings.Contains(domain, "@") {
		return "", fmt.Errorf("mail address %q has no usable domain", address)
	}
	domain = strings.ToLower(domain)

	if server, ok := wellKnownIMAP[domain]; ok {
		return server, nil
	}

	for _, host := range candidateIMAPHosts(domain) {
		if probeIMAP(host) {
			return net.JoinHostPort(host, "993"), nil
		}
	}

	return net.JoinHostPort("imap."+domain, "993"), nil
}

// candidateIMAPHosts lists hosts worth probing for a domain: the common
// naming patterns first, then the same patterns on the base domain of the
// highest-priority MX record (mx.example.com -> imap.example.com).
func candidateIMAPHosts(domain string) []string {
	hosts := []string{"imap." + domain, "mail." + domain, domain}

	if mx, err := net.LookupMX(domain); err == nil && len(mx) > 0 {
		mxHost := strings.TrimSuffix(mx[0].Host, ".")
		if _, base, ok := strings.Cut(mxHost, "."); ok && base != domain {
			hosts = append(hosts, "imap."+base, "mail."+base)
		}
	}
	return hosts
}

// probeIMAP reports whether a host accepts connections on the IMAPS port.
func probeIMAP(host string) bool {
	conn, err := net.DialTimeout("tcp", net.JoinHostPort(host, "993"), 3*time.Second)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}
