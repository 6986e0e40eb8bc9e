package http

type Config struct {
	Port        int
	AdminAPIKey string
	JWTSecret   string
}
