package util

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net"
)

// AnonymizeIP truncates an address to its /24 (IPv6 /48) and HMACs it so
// client identities can be correlated in logs without storing raw IPs.
func AnonymizeIP(ipStr string, key []byte) string {
	ip := net.ParseIP(ipStr)
	if ip == nil {
		return "unknown"
	}
	var prefix string
	if v4 := ip.To4(); v4 != nil {
		prefix = v4.Mask(net.CIDRMask(24, 32)).String()
	} else {
		prefix = ip.Mask(net.CIDRMask(48, 128)).String()
	}
	m := hmac.New(sha256.New, key)
	m.Write([]byte(prefix))
	return hex.EncodeToString(m.Sum(nil))[:16]
}
