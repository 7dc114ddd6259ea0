package echoapi

import (
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/seido/portal/core"
	"github.com/seido/portal/core/user"
)

// access levels
const (
	levelStaff = iota + 1 // instructors and admins
	levelAdmin
)

var contextObjectKey = "object"

// roleMiddleware only lets through users with at least the given access level.
func roleMiddleware(level int) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			claims, err := getContextClaims(ctx)
			if err != nil {
				return errors.Wrap(err, "getting context claims")
			}
			switch {
			case level == levelAdmin && claims.IsAdmin,
				level == levelStaff && claims.IsStaff():
				return next(ctx)
			}
			return errHttpForbidden
		}
	}
}

func adminMiddleware() echo.MiddlewareFunc { return roleMiddleware(levelAdmin) }

func staffMiddleware() echo.MiddlewareFunc { return roleMiddleware(levelStaff) }

// ctxUserOrStaffMiddleware loads the `/:id` user in the context when the current user is that user or staff.
func ctxUserOrStaffMiddleware(svc user.ServiceInterface) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			ctxUsr, err := getContextUser(ctx, svc)
			if err != nil {
				return errors.Wrap(err, "getting context user")
			}

			if ctx.Param("id") == ctxUsr.ID || ctxUsr.IsStaff() {
				if usr, err := svc.GetByID(ctx.Request().Context(), ctx.Param("id")); err == nil {
					ctx.Set(contextObjectKey, usr)
					return next(ctx)
				} else if !core.IsNotFound(err) {
					return errors.Wrap(err, "finding user by ID")
				}
			}
			return errHttpNotFound
		}
	}
}

// activeUserMiddleware loads the current user in the context and rejects deactivated accounts.
func activeUserMiddleware(svc user.ServiceInterface) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			if _, err := getContextUser(ctx, svc); err != nil {
				return err
			}
			return next(ctx)
		}
	}
}
