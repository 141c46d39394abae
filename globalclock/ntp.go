package globalclock

import (
	"github.com/beevik/ntp"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// ntpTime is replaced in tests.
var ntpTime = ntp.Time

// SeedFromNTP returns the Unix milliseconds reported by server.
func SeedFromNTP(server string) (int64, error) {
	t, err := ntpTime(server)
	if err != nil {
		return 0, errors.Wrapf(err, "query ntp server %s", server)
	}
	zap.L().Info("seeded global clock from ntp", zap.String("server", server), zap.Time("time", t))
	return t.UnixMilli(), nil
}
