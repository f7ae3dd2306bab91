// Package cookie moves session tokens between HTTP cookies and callers.
//
// The session store never reads requests itself; handlers use Read to obtain the presented
// token and Write or Clear to hand the (possibly new) token back. An optional Signer wraps
// the token in a signed envelope so tampered cookies are rejected before any store lookup.
package cookie
