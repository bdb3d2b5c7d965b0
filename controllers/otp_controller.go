package controllers

import (
	"errors"

	"github.com/gin-gonic/gin"

	"github.com/cppla/habitledger/apperr"
	"github.com/cppla/habitledger/otp"
	"github.com/cppla/habitledger/utils"
)

// OTPController gates code requests and verification per phone.
type OTPController struct {
	throttle *otp.Throttle
}

func NewOTPController(throttle *otp.Throttle) *OTPController {
	return &OTPController{throttle: throttle}
}

type otpRequest struct {
	Phone string `json:"phone" binding:"required"`
}

type otpVerifyRequest struct {
	Phone string `json:"phone" binding:"required"`
	Code  string `json:"code" binding:"required"`
}

// Request issues a new code when the phone is neither locked nor inside the
// request interval.
func (o *OTPController) Request(ctx *gin.Context) {
	var req otpRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.Fail(ctx, apperr.InvalidRequest("phone is required"))
		return
	}
	if err := o.throttle.Issue(ctx.Request.Context(), req.Phone); err != nil {
		o.reject(ctx, req.Phone, err)
		return
	}
	utils.Success(ctx, gin.H{"sent": true})
}

// Verify consumes a code. Wrong codes count toward the lockout.
func (o *OTPController) Verify(ctx *gin.Context) {
	var req otpVerifyRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.Fail(ctx, apperr.InvalidRequest("phone and code are required"))
		return
	}
	if err := o.throttle.Verify(ctx.Request.Context(), req.Phone, req.Code); err != nil {
		o.reject(ctx, req.Phone, err)
		return
	}
	utils.Success(ctx, gin.H{"verified": true})
}

// Status returns the gate decision without recording anything.
func (o *OTPController) Status(ctx *gin.Context) {
	d, err := o.throttle.Status(ctx.Request.Context(), ctx.Query("phone"))
	if err != nil {
		utils.Fail(ctx, err)
		return
	}
	utils.Success(ctx, d)
}

// reject attaches the gate decision to throttle rejections so clients can show
// the remaining wait.
func (o *OTPController) reject(ctx *gin.Context, phone string, err error) {
	if !errors.Is(err, apperr.ErrOTPLocked) && !errors.Is(err, apperr.ErrOTPRateLimited) && !errors.Is(err, apperr.ErrInvalidOTP) {
		utils.Fail(ctx, err)
		return
	}
	d, serr := o.throttle.Status(ctx.Request.Context(), phone)
	if serr != nil {
		utils.Fail(ctx, err)
		return
	}
	if errors.Is(err, apperr.ErrInvalidOTP) {
		// the miss that locks still answers INVALID_OTP, with the lock attached
		d.Allowed = false
		d.ReasonCode = apperr.CodeInvalidOTP
		if d.LockedUntil == nil {
			d.RetryAfterSeconds = 0
		}
	}
	utils.FailWithData(ctx, err, d, d.RetryAfterSeconds)
}
