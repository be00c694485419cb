package leasing

import "errors"

// User-facing feedback strings. The same HTTP status reads differently
// depending on the operation, so UserMessage is path-aware.
const (
	MsgNotFound        = "Sorry, not found"
	MsgUnauthorized    = "Sorry, your credential has been expired, please login again"
	MsgLoginFail       = "Sorry, your username or password is not correct"
	MsgLoginSuccess    = "Login Success"
	MsgRegisterSuccess = "Register Success"
	MsgRegisterFail    = "Register Error"
	MsgUpdateSuccess   = "Update Success"
	MsgDefaultError    = "Some error happend, please check your network and refresh"
)

// UserMessage turns an operation outcome into the transient message shown
// to the user. The path is the API path the operation hit ("/login",
// "/register", anything else). A nil error produces the success message
// for the path.
func UserMessage(err error, path string) string {
	if err == nil {
		switch path {
		case "/login":
			return MsgLoginSuccess
		case "/register":
			return MsgRegisterSuccess
		default:
			return MsgUpdateSuccess
		}
	}

	var herr *HTTPError
	if !errors.As(err, &herr) {
		return MsgDefaultError
	}
	switch herr.Status {
	case 404:
		return MsgNotFound
	case 401:
		if path == "/login" {
			return MsgLoginFail
		}
		return MsgUnauthorized
	case 400:
		switch path {
		case "/login":
			return MsgLoginFail
		case "/register":
			return MsgRegisterFail
		default:
			return MsgDefaultError
		}
	default:
		return MsgDefaultError
	}
}
