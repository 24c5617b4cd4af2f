package runtime

import (
	"context"
	"strconv"
	"strings"

	"github.com/TheAppgineer/zpbuild/internal/errx"
)

// Numeric identity a process runs as.
type User struct {
	UID uint32
	GID uint32
}

// The superuser.
var Root = User{}

func (u User) String() string {
	return strconv.FormatUint(uint64(u.UID), 10) + ":" + strconv.FormatUint(uint64(u.GID), 10)
}

// Parses a numeric "uid" or "uid:gid". A missing gid defaults to the uid.
// Returns false when either part is not numeric.
func ParseUser(s string) (User, bool) {
	name, group, hasGroup := strings.Cut(s, ":")
	uid, err := strconv.ParseUint(name, 10, 32)
	if err != nil {
		return User{}, false
	}
	gid := uid
	if hasGroup {
		gid, err = strconv.ParseUint(group, 10, 32)
		if err != nil {
			return User{}, false
		}
	}
	return User{UID: uint32(uid), GID: uint32(gid)}, true
}

// Resolves an account name or numeric "uid[:gid]" against the container's
// account database.
//
// Names are looked up by running id(1) as root inside the container, so the
// account must exist by the time it is resolved.
func (c *Container) LookupUser(ctx context.Context, spec string) (User, error) {
	if u, ok := ParseUser(spec); ok {
		return u, nil
	}

	name, group, hasGroup := strings.Cut(spec, ":")

	uid, err := c.idQuery(ctx, "-u", name)
	if err != nil {
		return User{}, errx.Wrapf(ErrUser, "%q: %w", spec, err)
	}

	var gid uint32
	if hasGroup {
		g, err := strconv.ParseUint(group, 10, 32)
		if err != nil {
			return User{}, errx.Wrapf(ErrUser, "%q: group must be numeric", spec)
		}
		gid = uint32(g)
	} else if gid, err = c.idQuery(ctx, "-g", name); err != nil {
		return User{}, errx.Wrapf(ErrUser, "%q: %w", spec, err)
	}

	return User{UID: uid, GID: gid}, nil
}

func (c *Container) idQuery(ctx context.Context, flag, name string) (uint32, error) {
	res, err := c.ExecArgs(ctx, []string{"id", flag, name})
	if err != nil {
		return 0, err
	}
	if res.ExitCode != 0 {
		return 0, errx.Wrapf(ErrUser, "id %s %s: %s", flag, name, strings.TrimSpace(res.Stderr))
	}
	v, err := strconv.ParseUint(strings.TrimSpace(res.Stdout), 10, 32)
	if err != nil {
		return 0, errx.Wrapf(ErrUser, "id %s %s: unexpected output %q", flag, name, res.Stdout)
	}
	return uint32(v), nil
}
