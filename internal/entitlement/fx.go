package entitlement

import (
	"github.com/smallbiznis/tokenwallet/internal/cache"
	"github.com/smallbiznis/tokenwallet/internal/entitlement/repository"
	"github.com/smallbiznis/tokenwallet/internal/entitlement/service"
	"go.uber.org/fx"
)

var Module = fx.Module("entitlement.service",
	fx.Provide(repository.Provide),
	fx.Provide(cache.NewEntitlementCache),
	fx.Provide(service.New),
)
