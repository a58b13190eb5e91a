package echoapi

import (
	"net/http"
	"net/mail"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/darasa/core/document"
	"github.com/trezcool/darasa/core/user"
)

var errDocNotFoundInCtx = errors.New("document object not found in echo.Context")

type documentApi struct {
	svc      *document.Service
	usrSvc   *user.Service
	validate *validator.Validate
}

func registerDocumentAPI(
	g *echo.Group,
	jwt echo.MiddlewareFunc,
	svc *document.Service,
	usrSvc *user.Service,
	validate *validator.Validate,
) {
	api := documentApi{
		svc:      svc,
		usrSvc:   usrSvc,
		validate: validate,
	}

	dg := g.Group("/documents", jwt)
	dg.POST("", api.create)
	dg.GET("", api.query)

	// detail endpoints: owner or staff
	deg := dg.Group("/:id", api.ctxDocumentMiddleware())
	deg.GET("", api.retrieve)
	deg.PUT("", api.save, api.ownerMiddleware())
	deg.POST("/submit", api.submit, api.ownerMiddleware())
	deg.GET("/history", api.history)
	deg.GET("/history/:entryID", api.contentAt)
	deg.POST("/restore/:entryID", api.restore, api.ownerMiddleware())
	deg.GET("/authenticity", api.authenticity, staffMiddleware())
}

// Handlers

func (api *documentApi) create(ctx echo.Context) error {
	var data document.NewDocument
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewDocument")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	ctxUsr, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}

	doc, err := api.svc.Create(ctx.Request().Context(), ctxUsr.ID, data, document.TreeMetrics(0, 0))
	if err != nil {
		return errors.Wrap(err, "creating document")
	}
	return ctx.JSON(http.StatusCreated, doc)
}

func (api *documentApi) query(ctx echo.Context) error {
	filter := new(document.QueryFilter)
	if err := ctx.Bind(filter); err != nil {
		return ctx.JSON(http.StatusOK, []document.Document{})
	}

	ctxUsr, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	// students only ever see their own documents
	if !(ctxUsr.IsAdmin() || ctxUsr.IsTeacher()) {
		filter.OwnerID = ctxUsr.ID
	}

	ordering := new(Ordering)
	ordering.Bind(ctx)

	docs, err := api.svc.Query(ctx.Request().Context(), *filter, ordering.Orderings...)
	if err != nil {
		return errors.Wrap(err, "querying documents")
	}
	if docs == nil {
		docs = []document.Document{}
	}
	return ctx.JSON(http.StatusOK, docs)
}

func (api *documentApi) retrieve(ctx echo.Context) error {
	doc, ok := ctx.Get("object").(document.Document)
	if !ok {
		return errors.Wrap(errDocNotFoundInCtx, "retrieving object from context")
	}
	return ctx.JSON(http.StatusOK, doc)
}

func (api *documentApi) save(ctx echo.Context) error {
	doc, ok := ctx.Get("object").(document.Document)
	if !ok {
		return errors.Wrap(errDocNotFoundInCtx, "retrieving object from context")
	}
	if !doc.SubmittedAt.IsZero() {
		return errAlreadySubmitted
	}

	var data document.SaveDocument
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to SaveDocument")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	doc, _, err := api.svc.Save(ctx.Request().Context(), doc, data)
	if err != nil {
		return errors.Wrap(err, "saving document")
	}
	return ctx.JSON(http.StatusOK, doc)
}

func (api *documentApi) submit(ctx echo.Context) error {
	doc, ok := ctx.Get("object").(document.Document)
	if !ok {
		return errors.Wrap(errDocNotFoundInCtx, "retrieving object from context")
	}

	var data document.SaveDocument
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to SaveDocument")
	}
	if data.Content == nil {
		data.Content = doc.Content // submit as-is
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	ctxUsr, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}

	doc, err = api.svc.Submit(ctx.Request().Context(), doc, data, mail.Address{Name: ctxUsr.Name, Address: ctxUsr.Email})
	if err != nil {
		if errors.Cause(err) == document.ErrIsSubmitted {
			return errAlreadySubmitted
		}
		return errors.Wrap(err, "submitting document")
	}
	return ctx.JSON(http.StatusOK, doc)
}

func (api *documentApi) history(ctx echo.Context) error {
	doc, ok := ctx.Get("object").(document.Document)
	if !ok {
		return errors.Wrap(errDocNotFoundInCtx, "retrieving object from context")
	}

	entries, err := api.svc.History(ctx.Request().Context(), doc.ID)
	if err != nil {
		return errors.Wrap(err, "fetching history")
	}
	if entries == nil {
		entries = []document.HistoryEntry{}
	}
	return ctx.JSON(http.StatusOK, entries)
}

func (api *documentApi) contentAt(ctx echo.Context) error {
	doc, ok := ctx.Get("object").(document.Document)
	if !ok {
		return errors.Wrap(errDocNotFoundInCtx, "retrieving object from context")
	}

	content, err := api.svc.ContentAt(ctx.Request().Context(), doc.ID, ctx.Param("entryID"))
	if err != nil {
		if errors.Cause(err) == document.ErrBadHistory {
			return errHttpNotFound
		}
		return errors.Wrap(err, "reconstructing content")
	}
	return ctx.JSON(http.StatusOK, HistoryContentResponse{EntryID: ctx.Param("entryID"), Content: content})
}

func (api *documentApi) restore(ctx echo.Context) error {
	doc, ok := ctx.Get("object").(document.Document)
	if !ok {
		return errors.Wrap(errDocNotFoundInCtx, "retrieving object from context")
	}
	if !doc.SubmittedAt.IsZero() {
		return errAlreadySubmitted
	}

	doc, err := api.svc.Restore(ctx.Request().Context(), doc, ctx.Param("entryID"))
	if err != nil {
		if errors.Cause(err) == document.ErrBadHistory {
			return errHttpNotFound
		}
		return errors.Wrap(err, "restoring document")
	}
	return ctx.JSON(http.StatusOK, doc)
}

func (api *documentApi) authenticity(ctx echo.Context) error {
	doc, ok := ctx.Get("object").(document.Document)
	if !ok {
		return errors.Wrap(errDocNotFoundInCtx, "retrieving object from context")
	}

	report, err := api.svc.Authenticity(ctx.Request().Context(), doc.ID)
	if err != nil {
		return errors.Wrap(err, "analyzing authenticity")
	}
	return ctx.JSON(http.StatusOK, report)
}

// Middleware

// ctxDocumentMiddleware loads the document and allows its owner or staff in.
func (api *documentApi) ctxDocumentMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			ctxUsr, err := getContextUser(ctx, api.usrSvc)
			if err != nil {
				return errors.Wrap(err, "getting context user")
			}

			doc, err := api.svc.GetByID(ctx.Request().Context(), ctx.Param("id"))
			if err != nil {
				if errors.Cause(err) == document.ErrNotFound {
					return errHttpNotFound
				}
				return errors.Wrap(err, "finding document by ID")
			}

			if doc.OwnerID == ctxUsr.ID || ctxUsr.IsAdmin() || ctxUsr.IsTeacher() {
				ctx.Set("object", doc)
				return next(ctx)
			}
			return errHttpNotFound
		}
	}
}

// ownerMiddleware only lets the document's owner mutate it.
func (api *documentApi) ownerMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			doc, ok := ctx.Get("object").(document.Document)
			if !ok {
				return errors.Wrap(errDocNotFoundInCtx, "retrieving object from context")
			}
			ctxUsr, err := getContextUser(ctx, api.usrSvc)
			if err != nil {
				return errors.Wrap(err, "getting context user")
			}
			if doc.OwnerID != ctxUsr.ID {
				return errHttpForbidden
			}
			return next(ctx)
		}
	}
}

type HistoryContentResponse struct {
	EntryID string      `json:"entry_id"`
	Content interface{} `json:"content"`
}
