package notification

import (
	"github.com/smallbiznis/clinicbilling/internal/providers/email"
	"github.com/smallbiznis/clinicbilling/internal/providers/pdf"
	"go.uber.org/fx"
)

var Module = fx.Module("notification",
	email.Module,
	pdf.Module,
	fx.Provide(New),
)
