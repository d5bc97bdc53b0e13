package httpmw

// SessionHeader carries the shell session token that identifies terminal
// and CLI callers on REST requests.
const SessionHeader = "X-Tabhub-Session"
