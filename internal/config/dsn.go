package config

import (
	"fmt"
	"net"
	neturl "net/url"
	"strconv"
	"strings"
)

// DSNValue returns the gorm DSN for the configured driver. For SQLite it is the
// database file path (or an explicit dsn such as file::memory:).
func (c DatabaseRuntimeConfig) DSNValue() string {
	if v := strings.TrimSpace(c.DSN); v != "" {
		return v
	}
	if c.Driver == DriverSQLite {
		path := strings.TrimSpace(c.Path)
		if path == "" {
			path = defaultSQLitePath
		}
		return ResolveRuntimePath(path, defaultSQLitePath)
	}

	host := strings.TrimSpace(c.Host)
	if host == "" {
		host = defaultDBHost
	}
	port := c.Port
	if port == 0 {
		port = defaultDBPort
	}
	user := strings.TrimSpace(c.User)
	if user == "" {
		user = defaultDBUser
	}
	name := strings.TrimSpace(c.Name)
	if name == "" {
		name = defaultDBName
	}
	charset := strings.TrimSpace(c.Charset)
	if charset == "" {
		charset = defaultDBCharset
	}
	loc := strings.TrimSpace(c.Loc)
	if loc == "" {
		loc = defaultDBLoc
	}

	params := neturl.Values{}
	for key, value := range c.Params {
		k := strings.TrimSpace(key)
		v := strings.TrimSpace(value)
		if k != "" && v != "" {
			params.Set(k, v)
		}
	}
	if params.Get("charset") == "" {
		params.Set("charset", charset)
	}
	if params.Get("parseTime") == "" {
		params.Set("parseTime", strconv.FormatBool(c.ParseTime))
	}
	if params.Get("loc") == "" {
		params.Set("loc", loc)
	}

	auth := user
	if password := strings.TrimSpace(c.Password); password != "" {
		auth += ":" + password
	}
	auth += "@"

	dsn := fmt.Sprintf("%stcp(%s)/%s", auth, net.JoinHostPort(host, strconv.Itoa(port)), name)
	if query := params.Encode(); query != "" {
		dsn += "?" + query
	}
	return dsn
}

// URLValue returns the Redis URL, or "" when Redis is not configured.
func (c RedisRuntimeConfig) URLValue() string {
	if u := strings.TrimSpace(c.URL); u != "" {
		if !strings.Contains(u, "://") {
			u = "redis://" + u
		}
		return u
	}

	host := strings.TrimSpace(c.Host)
	if host == "" {
		return ""
	}
	port := c.Port
	if port == 0 {
		port = defaultRedisPort
	}
	db := c.DB
	if db < 0 {
		db = 0
	}

	scheme := "redis"
	if c.TLS {
		scheme = "rediss"
	}
	u := &neturl.URL{
		Scheme: scheme,
		Host:   net.JoinHostPort(host, strconv.Itoa(port)),
		Path:   "/" + strconv.Itoa(db),
	}
	username := strings.TrimSpace(c.Username)
	password := strings.TrimSpace(c.Password)
	switch {
	case username != "" && password != "":
		u.User = neturl.UserPassword(username, password)
	case username != "":
		u.User = neturl.User(username)
	case password != "":
		u.User = neturl.UserPassword("", password)
	}
	return u.String()
}
