package department

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/clinicq/queue-api/internal/handler"
	"github.com/clinicq/queue-api/internal/model"
	"github.com/clinicq/queue-api/internal/repository"
	"github.com/clinicq/queue-api/internal/service/booking"
	"github.com/clinicq/queue-api/internal/service/queue"
)

type Handler struct {
	deptRepo   repository.DepartmentRepository
	doctorRepo repository.DoctorRepository
	queueSvc   *queue.Service
	bookingSvc *booking.Service
}

func NewHandler(
	deptRepo repository.DepartmentRepository,
	doctorRepo repository.DoctorRepository,
	queueSvc *queue.Service,
	bookingSvc *booking.Service,
) *Handler {
	return &Handler{deptRepo: deptRepo, doctorRepo: doctorRepo, queueSvc: queueSvc, bookingSvc: bookingSvc}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	departments := r.Group("/departments")
	{
		departments.GET("", h.ListDepartments)
		departments.GET("/:id", h.GetDepartment)
		departments.GET("/:id/queue", h.GetQueue)
		departments.GET("/:id/slots", h.GetSlots)
		departments.POST("/:id/call-next", h.CallNext)
	}
}

func (h *Handler) ListDepartments(c *gin.Context) {
	activeOnly := c.Query("all") == ""
	departments, err := h.deptRepo.List(c.Request.Context(), activeOnly)
	if err != nil {
		handler.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(departments))
}

type departmentDetail struct {
	*model.Department
	AvailableDoctors []*model.Doctor `json:"available_doctors"`
}

// GetDepartment returns the department together with the doctors currently
// marked available for it.
func (h *Handler) GetDepartment(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse("invalid department ID"))
		return
	}

	dept, err := h.deptRepo.Get(c.Request.Context(), id)
	if err != nil {
		handler.Error(c, err)
		return
	}
	doctors, err := h.doctorRepo.ListAvailableByDepartment(c.Request.Context(), id)
	if err != nil {
		handler.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(&departmentDetail{
		Department:       dept,
		AvailableDoctors: doctors,
	}))
}

// GetQueue returns the live waiting and consultation board.
func (h *Handler) GetQueue(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse("invalid department ID"))
		return
	}

	snapshot, err := h.queueSvc.DepartmentStatus(c.Request.Context(), id)
	if err != nil {
		handler.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(snapshot))
}

func (h *Handler) GetSlots(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse("invalid department ID"))
		return
	}

	slots, err := h.bookingSvc.AvailableSlots(c.Request.Context(), id, c.Query("date"))
	if err != nil {
		handler.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(slots))
}

type callNextRequest struct {
	DoctorID uuid.UUID `json:"doctor_id" binding:"required"`
}

// CallNext claims the next waiting patient for a doctor. An empty queue is a
// success with no data.
func (h *Handler) CallNext(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse("invalid department ID"))
		return
	}

	var req callNextRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse(err.Error()))
		return
	}

	result, err := h.queueSvc.CallNext(c.Request.Context(), id, req.DoctorID)
	if err != nil {
		handler.Error(c, err)
		return
	}
	if result == nil {
		c.JSON(http.StatusOK, &handler.Response{Status: "success", Message: "no patients waiting"})
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(result))
}
