package api

import (
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/gin-gonic/gin"

	"github.com/chenBenjamin97/pose-tracker/pkg/detect"
	"github.com/chenBenjamin97/pose-tracker/pkg/i18n"
	"github.com/chenBenjamin97/pose-tracker/pkg/logging"
	"github.com/chenBenjamin97/pose-tracker/pkg/pose"
	"github.com/chenBenjamin97/pose-tracker/pkg/tracker"
	"github.com/chenBenjamin97/pose-tracker/pkg/utils"
	"github.com/chenBenjamin97/pose-tracker/pkg/video"
)

//maxImageSize bounds the body of an image detection request
const maxImageSize = 32 << 20

func SetRouter(s *Server) *gin.Engine {
	r := gin.New()
	r.Use(logging.RequestLogger(s.logger.Named("http")), gin.Recovery())

	//serve html pages to client
	r.Static("/client", s.cfg.Frontend.StaticFilesPath)
	r.StaticFile("/", filepath.Join(s.cfg.Frontend.StaticFilesPath, "home_page/dist/index.html"))

	apiRoutes := r.Group("/api")

	apiRoutes.GET("/Languages", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, s.translator.Languages())
	})

	apiRoutes.GET("/Status", func(ctx *gin.Context) {
		if err := s.detector.Supported(); err != nil {
			s.abort(ctx, err)
			return
		}
		ctx.JSON(http.StatusOK, gin.H{"supported": true})
	})

	apiRoutes.POST("/DetectImage", func(ctx *gin.Context) {
		ctx.Request.Body = http.MaxBytesReader(ctx.Writer, ctx.Request.Body, maxImageSize)

		file, _, err := ctx.Request.FormFile("image")
		if err != nil {
			if errors.Is(err, http.ErrMissingFile) || errors.Is(err, http.ErrNotMultipart) {
				s.abort(ctx, detect.ErrUserCancelled) //nothing was picked
				return
			}
			s.abort(ctx, err)
			return
		}
		defer file.Close()

		img, err := video.LoadImage(file)
		if err != nil {
			s.abort(ctx, errors.Join(detect.ErrDetection, err))
			return
		}

		res, err := s.detector.DetectImage(ctx.Request.Context(), img)
		if err != nil {
			s.abort(ctx, err)
			return
		}
		positions, err := pose.WorldPositions(res)
		if err != nil {
			s.abort(ctx, errors.Join(detect.ErrNoLandmarks, err))
			return
		}

		//a picked image also poses the editors of the given tracking session
		if session := ctx.Query("session"); session != "" {
			if err := s.hub.SetPoseFromLandmarks(ctx.Request.Context(), session, positions); err != nil {
				s.logger.Warn("could not pose editors", "session", session, "error", err)
			}
		}

		if ctx.Query("annotate") == "true" {
			annotated, err := video.AnnotateImage(img, res)
			if err != nil {
				s.abort(ctx, err)
				return
			}
			ctx.Data(http.StatusOK, "image/jpeg", annotated)
			return
		}

		ctx.JSON(http.StatusOK, gin.H{
			"positions": positions,
			"landmarks": res.FirstPose(),
		})
	})

	apiRoutes.GET("/ReadyTracesNames", func(ctx *gin.Context) {
		if names, err := utils.ListDir(s.cfg.Directory.Ready); err != nil {
			s.abort(ctx, err)
		} else {
			ctx.JSON(http.StatusOK, names)
		}
	})

	apiRoutes.GET("/UserUploadsVideosNames", func(ctx *gin.Context) {
		if names, err := utils.ListDir(s.cfg.Directory.Source); err != nil {
			s.abort(ctx, err)
		} else {
			ctx.JSON(http.StatusOK, names)
		}
	})

	apiRoutes.GET("/Play", func(ctx *gin.Context) {
		videoName, ok := s.nameParam(ctx)
		if !ok {
			return
		}

		s.serveFile(ctx, filepath.Join(s.cfg.Directory.Source, videoName), "video/"+s.cfg.Video.ProdFormat)
	})

	apiRoutes.GET("/Trace", func(ctx *gin.Context) {
		videoName, ok := s.nameParam(ctx)
		if !ok {
			return
		}

		s.serveFile(ctx, filepath.Join(s.cfg.Directory.Ready, utils.TrimExt(videoName)+".json"), "application/json")
	})

	apiRoutes.POST("/Upload", func(ctx *gin.Context) {
		file, fHeader, err := ctx.Request.FormFile("video")
		if err != nil {
			s.reject(ctx, http.StatusNotAcceptable, i18n.MsgMissingParameter, map[string]interface{}{"Name": "video"})
			return
		}
		defer file.Close()

		fileName, err := utils.SafeName(fHeader.Filename)
		if err != nil || !utils.HasExt(fileName, s.cfg.Video.Extensions) {
			s.reject(ctx, http.StatusNotAcceptable, i18n.MsgMissingParameter, map[string]interface{}{"Name": "video"})
			return
		}

		srcFilePath := filepath.Join(s.cfg.Directory.Source, fileName)
		dst, err := os.OpenFile(srcFilePath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0444)
		if err != nil {
			if errors.Is(err, os.ErrExist) {
				s.reject(ctx, http.StatusNotAcceptable, i18n.MsgAlreadyExists, map[string]interface{}{"Name": fileName})
				return
			}
			s.abort(ctx, err)
			return
		}

		s.logger.Info("received new file", "name", fileName, "size", fHeader.Size)

		_, err = io.Copy(dst, file)
		if closeErr := dst.Close(); err == nil {
			err = closeErr
		}
		if err != nil {
			os.Remove(srcFilePath)
			s.abort(ctx, err)
			return
		}

		s.traceUpload(fileName)
		ctx.JSON(http.StatusOK, gin.H{"name": fileName})
	})

	trackRoutes := apiRoutes.Group("/Track")

	trackRoutes.POST("", func(ctx *gin.Context) {
		videoName, ok := s.nameParam(ctx)
		if !ok {
			return
		}
		if _, err := os.Stat(filepath.Join(s.cfg.Directory.Source, videoName)); err != nil {
			s.reject(ctx, http.StatusNotFound, i18n.MsgNotFound, map[string]interface{}{"Name": videoName})
			return
		}

		ts, err := s.startTracking(ctx.Request.Context(), videoName)
		if err != nil {
			s.abort(ctx, err)
			return
		}

		ctx.JSON(http.StatusOK, gin.H{"id": ts.id})
	})

	trackRoutes.POST("/:id/Pause", func(ctx *gin.Context) {
		if ts, ok := s.runningSession(ctx); ok {
			ts.video.Pause()
			ctx.JSON(http.StatusOK, gin.H{"state": ts.session.State().String()})
		}
	})

	trackRoutes.POST("/:id/Play", func(ctx *gin.Context) {
		if ts, ok := s.runningSession(ctx); ok {
			ts.video.Play()
			ctx.JSON(http.StatusOK, gin.H{"state": ts.session.State().String()})
		}
	})

	trackRoutes.GET("/:id", func(ctx *gin.Context) {
		ts, ok := s.session(ctx.Param("id"))
		if !ok {
			s.reject(ctx, http.StatusNotFound, i18n.MsgNotFound, map[string]interface{}{"Name": ctx.Param("id")})
			return
		}

		ctx.JSON(http.StatusOK, gin.H{
			"id":      ts.id,
			"name":    ts.name,
			"state":   ts.session.State().String(),
			"editors": s.hub.Editors(ts.id),
		})
	})

	trackRoutes.DELETE("/:id", func(ctx *gin.Context) {
		ts, ok := s.removeSession(ctx.Param("id"))
		if !ok {
			s.reject(ctx, http.StatusNotFound, i18n.MsgNotFound, map[string]interface{}{"Name": ctx.Param("id")})
			return
		}

		s.endSession(ts)
		ctx.Status(http.StatusOK)
	})

	trackRoutes.GET("/:id/ws", func(ctx *gin.Context) {
		if _, ok := s.session(ctx.Param("id")); !ok {
			s.reject(ctx, http.StatusNotFound, i18n.MsgNotFound, map[string]interface{}{"Name": ctx.Param("id")})
			return
		}

		if err := s.hub.Serve(ctx.Writer, ctx.Request, ctx.Param("id")); err != nil {
			s.logger.Debug("editor could not attach", "session", ctx.Param("id"), "error", err)
		}
	})

	return r
}

//nameParam returns the file name in the name url parameter, answering 406 when it is missing or invalid
func (s *Server) nameParam(ctx *gin.Context) (string, bool) {
	name, err := utils.SafeName(ctx.Query("name"))
	if ctx.Query("name") == "" || err != nil {
		s.reject(ctx, http.StatusNotAcceptable, i18n.MsgMissingParameter, map[string]interface{}{"Name": "name"}) //missing url parameter
		return "", false
	}

	return name, true
}

//runningSession returns the session named by the id path parameter, answering 404 or 409 when it cannot be controlled
func (s *Server) runningSession(ctx *gin.Context) (*trackingSession, bool) {
	ts, ok := s.session(ctx.Param("id"))
	if !ok {
		s.reject(ctx, http.StatusNotFound, i18n.MsgNotFound, map[string]interface{}{"Name": ctx.Param("id")})
		return nil, false
	}

	if state := ts.session.State(); state != tracker.Running {
		ctx.AbortWithStatusJSON(http.StatusConflict, gin.H{"state": state.String()})
		return nil, false
	}

	return ts, true
}

func (s *Server) serveFile(ctx *gin.Context, filePath, contentType string) {
	if _, err := os.Stat(filePath); err != nil {
		if os.IsNotExist(err) {
			s.reject(ctx, http.StatusNotFound, i18n.MsgNotFound, map[string]interface{}{"Name": filepath.Base(filePath)})
		} else {
			s.abort(ctx, err)
		}
		return
	}

	ctx.Header("Content-Type", contentType)
	http.ServeFile(ctx.Writer, ctx.Request, filePath)
}
