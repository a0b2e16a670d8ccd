package httpmiddleware

import (
	"net/http"
	"strconv"
	"strings"
)

// CORSConfig configures the CORS middleware.
type CORSConfig struct {
	// AllowOrigins lists origins allowed to make cross-origin requests.
	// Empty, or the single entry "*", allows all origins.
	AllowOrigins []string
	// AllowHeaders lists request headers clients may use. When empty, the
	// preflight's Access-Control-Request-Headers value is echoed back.
	AllowHeaders []string
	// AllowCredentials exposes responses to credentialed requests. With
	// credentials the wildcard origin is forbidden, so the specific origin
	// is echoed instead.
	AllowCredentials bool
	// MaxAge is the preflight cache lifetime in seconds. Zero omits the
	// header.
	MaxAge int
}

// CORS returns a middleware handling Cross-Origin Resource Sharing,
// including preflight requests and Vary headers for caches.
func CORS(cfg CORSConfig) Middleware {
	allowAll := len(cfg.AllowOrigins) == 0
	allowed := make(map[string]string, len(cfg.AllowOrigins))
	for _, o := range cfg.AllowOrigins {
		if o == "*" {
			allowAll = true
		}
		allowed[strings.ToLower(o)] = o
	}
	// The wildcard origin is invalid for credentialed responses; echo the
	// caller's origin instead.
	echoOrigin := cfg.AllowCredentials && allowAll
	if cfg.AllowCredentials {
		allowAll = false
	}

	allowHeaders := strings.Join(cfg.AllowHeaders, ", ")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin == "" {
				next.ServeHTTP(w, r)
				return
			}

			allowOrigin := ""
			switch {
			case allowAll:
				allowOrigin = "*"
			case echoOrigin:
				allowOrigin = origin
				w.Header().Add("Vary", "Origin")
			default:
				if orig, ok := allowed[strings.ToLower(origin)]; ok {
					allowOrigin = orig
					w.Header().Add("Vary", "Origin")
				}
			}

			if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
				if allowOrigin != "" {
					w.Header().Set("Access-Control-Allow-Origin", allowOrigin)
					w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
					if allowHeaders != "" {
						w.Header().Set("Access-Control-Allow-Headers", allowHeaders)
					} else if rh := r.Header.Get("Access-Control-Request-Headers"); rh != "" {
						w.Header().Set("Access-Control-Allow-Headers", rh)
					}
					if cfg.AllowCredentials {
						w.Header().Set("Access-Control-Allow-Credentials", "true")
					}
					if cfg.MaxAge > 0 {
						w.Header().Set("Access-Control-Max-Age", strconv.Itoa(cfg.MaxAge))
					}
				}
				w.WriteHeader(http.StatusNoContent)
				return
			}

			if allowOrigin != "" {
				w.Header().Set("Access-Control-Allow-Origin", allowOrigin)
				if cfg.AllowCredentials {
					w.Header().Set("Access-Control-Allow-Credentials", "true")
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}
