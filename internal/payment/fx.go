package payment

import (
	"github.com/smallbiznis/tokenwallet/internal/payment/repository"
	paymentservice "github.com/smallbiznis/tokenwallet/internal/payment/service"
	"github.com/smallbiznis/tokenwallet/internal/payment/sweeper"
	"go.uber.org/fx"
)

var Module = fx.Module("payment.service",
	fx.Provide(repository.Provide),
	fx.Provide(paymentservice.NewService),
	sweeper.Module,
)
